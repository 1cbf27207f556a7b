package referral

import (
	"context"
	"errors"

	"agency-engine/pkg/errutil"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Tree is the result of one build. It lives for a single settlement run and
// is never persisted.
type Tree struct {
	Root   *Node
	Index  map[string]*Node // by username
	byID   map[string]*Node
	Issues []IntegrityIssue
}

// NodeByID resolves a tree member by user id, nil when the user is not part
// of this tree.
func (t *Tree) NodeByID(userID string) *Node {
	return t.byID[userID]
}

type Builder struct {
	db *gorm.DB
}

type BuilderParams struct {
	fx.In
	DB *gorm.DB
}

func NewBuilder(p BuilderParams) *Builder {
	return &Builder{db: p.DB}
}

// BuildTree derives the referral tree rooted at rootUserID by indexing all
// users on referred_by and descending from the root. The referred_by graph
// must be treated as potentially cyclic: a username that reappears while
// descending truncates that branch and records an integrity issue, without
// aborting the rest of the build. O(N) over reachable nodes.
func (b *Builder) BuildTree(ctx context.Context, rootUserID string) (*Tree, error) {
	var root User
	if err := b.db.WithContext(ctx).Where("id = ?", rootUserID).First(&root).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errutil.NotFound("root user not found", err)
		}
		return nil, err
	}

	var users []User
	if err := b.db.WithContext(ctx).Find(&users).Error; err != nil {
		return nil, err
	}

	byReferrer := make(map[string][]User, len(users))
	for _, u := range users {
		if u.ReferredBy == "" {
			continue
		}
		byReferrer[u.ReferredBy] = append(byReferrer[u.ReferredBy], u)
	}

	tree := &Tree{
		Root:  newNode(root),
		Index: make(map[string]*Node),
		byID:  make(map[string]*Node),
	}

	visited := map[string]bool{root.Username: true}
	tree.Index[root.Username] = tree.Root
	tree.byID[root.ID] = tree.Root
	b.expand(tree, tree.Root, byReferrer, visited)

	for _, issue := range tree.Issues {
		zap.L().Warn("referral data integrity error: cyclic branch truncated",
			zap.String("root_user_id", rootUserID),
			zap.String("username", issue.Username),
			zap.String("referred_by", issue.ReferredBy),
		)
	}

	return tree, nil
}

func (b *Builder) expand(tree *Tree, parent *Node, byReferrer map[string][]User, visited map[string]bool) {
	for _, child := range byReferrer[parent.Username] {
		if visited[child.Username] {
			tree.Issues = append(tree.Issues, IntegrityIssue{
				Username:   child.Username,
				ReferredBy: parent.Username,
				Detail:     "username already visited while descending",
			})
			continue
		}
		visited[child.Username] = true

		node := newNode(child)
		tree.Index[child.Username] = node
		tree.byID[child.ID] = node
		parent.Children = append(parent.Children, node)

		b.expand(tree, node, byReferrer, visited)
	}
}

func newNode(u User) *Node {
	return &Node{
		UserID:     u.ID,
		Username:   u.Username,
		ReferredBy: u.ReferredBy,
		TeamMaster: u.TeamMaster,
		UserRole:   u.UserRole,
	}
}

// AncestorChain walks referred_by links upward from username inside this
// tree, nearest-first, bounded by maxDepth. The visited set guards the walk
// against the same malformed data the builder defends against.
func (t *Tree) AncestorChain(username string, maxDepth int) []*Node {
	chain := make([]*Node, 0, maxDepth)
	visited := map[string]bool{username: true}

	current, ok := t.Index[username]
	if !ok {
		return chain
	}

	for len(chain) < maxDepth {
		parentName := current.ReferredBy
		if parentName == "" {
			break
		}

		parent, ok := t.Index[parentName]
		if !ok || visited[parentName] {
			break
		}
		visited[parentName] = true

		chain = append(chain, parent)
		current = parent
	}

	return chain
}

// Aggregate folds per-user window amounts into subtree metrics, bottom-up.
// MemberCount counts descendants only; a node's own activity contributes to
// its charge/usage aggregates.
func (t *Tree) Aggregate(amounts map[string]Amounts) {
	for username, a := range amounts {
		if node, ok := t.Index[username]; ok {
			node.own = a
		}
	}

	aggregate(t.Root)
}

func aggregate(n *Node) Metrics {
	m := Metrics{
		ChargeAmount: n.own.ChargeAmount,
		UsageAmount:  n.own.UsageAmount,
	}

	for _, child := range n.Children {
		cm := aggregate(child)
		m.MemberCount += cm.MemberCount + 1
		m.ChargeAmount += cm.ChargeAmount
		m.UsageAmount += cm.UsageAmount
	}

	n.Metrics = m
	return m
}
