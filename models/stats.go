package models

import "gorm.io/gorm"

// Stats is a snapshot of the size of the store.
type Stats struct {
	LocalPosts        int64
	InboxObjects      int64
	Actors            int64
	Followers         int64
	Following         int64
	PendingDeliveries int64
	FailedDeliveries  int64
	QueuedIncoming    int64
}

// CollectStats counts the rows of interest in db.
func CollectStats(db *gorm.DB) (*Stats, error) {
	var s Stats
	counts := []struct {
		dst   *int64
		query *gorm.DB
	}{
		{&s.LocalPosts, db.Model(&OutboxObject{}).Where("ap_type IN ? AND is_deleted = ? AND is_transient = ?", []string{"Note", "Page", "Article", "Question"}, false, false)},
		{&s.InboxObjects, db.Model(&InboxObject{}).Where("is_deleted = ?", false)},
		{&s.Actors, db.Model(&Actor{}).Where("is_deleted = ?", false)},
		{&s.Followers, db.Model(&Follower{})},
		{&s.Following, db.Model(&Following{})},
		{&s.PendingDeliveries, db.Model(&OutgoingActivity{}).Where("is_sent = ? AND is_errored = ?", false, false)},
		{&s.FailedDeliveries, db.Model(&OutgoingActivity{}).Where("is_errored = ?", true)},
		{&s.QueuedIncoming, db.Model(&IncomingActivity{})},
	}
	for _, c := range counts {
		if err := c.query.Count(c.dst).Error; err != nil {
			return nil, err
		}
	}
	return &s, nil
}
