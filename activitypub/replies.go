package activitypub

import (
	"errors"
	"sort"

	"github.com/davecheney/solo/models"
)

// ReplyNode is an object in a reply tree.
type ReplyNode struct {
	Object      *models.Object
	Children    []*ReplyNode
	IsRoot      bool
	IsRequested bool
}

// BuildReplyTree returns the reply tree of the conversation of requested.
// Unless includePrivate, only public and unlisted objects take part.
func (e *Env) BuildReplyTree(requested *models.Object, includePrivate bool) (*ReplyNode, error) {
	nodes := []*models.Object{requested}
	if conv := requested.Conversation(); conv != "" {
		var err error
		if nodes, err = e.objects(e.DB).Conversation(conv, includePrivate); err != nil {
			return nil, err
		}
	}
	if len(nodes) == 0 {
		return &ReplyNode{Object: requested, IsRoot: true, IsRequested: true}, nil
	}

	children := make(map[string][]*models.Object)
	var root *models.Object
	for _, n := range nodes {
		parent := n.InReplyTo()
		if parent == "" {
			if root != nil {
				return nil, errors.New("BuildReplyTree: conversation " + requested.Conversation() + " has more than one root")
			}
			root = n
			continue
		}
		children[parent] = append(children[parent], n)
	}
	if root == nil {
		root = nodes[0]
		for _, n := range nodes[1:] {
			if n.PublishedAt().Before(root.PublishedAt()) {
				root = n
			}
		}
	}

	tree := &ReplyNode{Object: root, IsRoot: true, IsRequested: root.APID() == requested.APID()}
	seen := map[string]bool{root.APID(): true}
	stack := []*ReplyNode{tree}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		replies := children[node.Object.APID()]
		sortByPublished(replies)
		for _, reply := range replies {
			if seen[reply.APID()] {
				continue
			}
			seen[reply.APID()] = true
			child := &ReplyNode{Object: reply, IsRequested: reply.APID() == requested.APID()}
			node.Children = append(node.Children, child)
			stack = append(stack, child)
		}
	}
	return tree, nil
}

func sortByPublished(objs []*models.Object) {
	sort.SliceStable(objs, func(i, j int) bool {
		return objs[i].PublishedAt().Before(objs[j].PublishedAt())
	})
}

// Flatten returns the ancestors of the requested node, root first, and its
// descendants in depth first order.
func (n *ReplyNode) Flatten() (ancestors, descendants []*models.Object) {
	type frame struct {
		node *ReplyNode
		path []*models.Object
	}
	stack := []frame{{node: n}}
	var requested *ReplyNode
	for len(stack) > 0 && requested == nil {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if f.node.IsRequested {
			requested = f.node
			ancestors = f.path
			break
		}
		path := append(f.path[:len(f.path):len(f.path)], f.node.Object)
		for i := len(f.node.Children) - 1; i >= 0; i-- {
			stack = append(stack, frame{node: f.node.Children[i], path: path})
		}
	}
	if requested == nil {
		return nil, nil
	}

	nodes := make([]*ReplyNode, len(requested.Children))
	copy(nodes, requested.Children)
	for i, j := 0, len(nodes)-1; i < j; i, j = i+1, j-1 {
		nodes[i], nodes[j] = nodes[j], nodes[i]
	}
	for len(nodes) > 0 {
		node := nodes[len(nodes)-1]
		nodes = nodes[:len(nodes)-1]
		descendants = append(descendants, node.Object)
		for i := len(node.Children) - 1; i >= 0; i-- {
			nodes = append(nodes, node.Children[i])
		}
	}
	return ancestors, descendants
}
