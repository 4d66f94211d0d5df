package activitypub

// Kind is the closed set of inbound activity types the engine dispatches on.
type Kind int

const (
	KindUnknown Kind = iota
	KindCreate
	KindRead
	KindUpdate
	KindMove
	KindDelete
	KindFollow
	KindUndo
	KindAccept
	KindReject
	KindEmojiReact
	KindLike
	KindAnnounce
	KindView
	KindAdd
	KindRemove

	numKinds
)

var kindNames = [numKinds]string{
	KindUnknown:    "Unknown",
	KindCreate:     "Create",
	KindRead:       "Read",
	KindUpdate:     "Update",
	KindMove:       "Move",
	KindDelete:     "Delete",
	KindFollow:     "Follow",
	KindUndo:       "Undo",
	KindAccept:     "Accept",
	KindReject:     "Reject",
	KindEmojiReact: "EmojiReact",
	KindLike:       "Like",
	KindAnnounce:   "Announce",
	KindView:       "View",
	KindAdd:        "Add",
	KindRemove:     "Remove",
}

// ParseKind maps an ActivityStreams type to its Kind. Unrecognised types
// map to KindUnknown.
func ParseKind(typ string) Kind {
	for k, name := range kindNames {
		if k != int(KindUnknown) && name == typ {
			return Kind(k)
		}
	}
	return KindUnknown
}

func (k Kind) String() string {
	if k < 0 || k >= numKinds {
		return kindNames[KindUnknown]
	}
	return kindNames[k]
}

// handlerFunc applies the side effects of one stored inbound activity.
type handlerFunc func(*inbox) error

// handlers is indexed by Kind. Every Kind has an entry.
var handlers = [numKinds]handlerFunc{
	KindUnknown:    handleUnknown,
	KindCreate:     handleCreate,
	KindRead:       handleRead,
	KindUpdate:     handleUpdate,
	KindMove:       handleMove,
	KindDelete:     handleDelete,
	KindFollow:     handleFollow,
	KindUndo:       handleUndo,
	KindAccept:     handleAccept,
	KindReject:     handleReject,
	KindEmojiReact: handleEmojiReact,
	KindLike:       handleLike,
	KindAnnounce:   handleAnnounce,
	KindView:       handleView,
	KindAdd:        handleInert,
	KindRemove:     handleInert,
}
