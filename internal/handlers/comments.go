package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/emilythestrangee/discuss/backend/internal/comments"
	"github.com/emilythestrangee/discuss/backend/internal/models"
	"github.com/emilythestrangee/discuss/backend/internal/votes"
)

// defaultDepth is how many levels a thread view renders unless ?depth= says otherwise.
const defaultDepth = 3

type CommentHandler struct {
	tree      *comments.Tree
	ledger    *votes.Ledger
	projector *votes.Projector
	log       *zap.Logger
}

func NewCommentHandler(tree *comments.Tree, ledger *votes.Ledger, projector *votes.Projector, log *zap.Logger) *CommentHandler {
	return &CommentHandler{tree: tree, ledger: ledger, projector: projector, log: log}
}

type commentView struct {
	comments.Node
	Score   int            `json:"score"`
	Replies []*commentView `json:"replies"`
}

// nest turns nodes ordered by lft into a forest of views.
func nest(nodes []comments.Node) []*commentView {
	roots := []*commentView{}
	var open []*commentView

	for _, n := range nodes {
		v := &commentView{Node: n, Score: n.Score(), Replies: []*commentView{}}

		for len(open) > 0 && open[len(open)-1].Rgt < n.Lft {
			open = open[:len(open)-1]
		}
		if len(open) == 0 {
			roots = append(roots, v)
		} else {
			parent := open[len(open)-1]
			parent.Replies = append(parent.Replies, v)
		}
		open = append(open, v)
	}
	return roots
}

// GetComments returns a post's comment forest down to ?depth= levels
func (h *CommentHandler) GetComments(c *gin.Context) {
	postID, err := paramID(c, "id")
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	depth, err := queryDepth(c, defaultDepth)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	nodes, err := h.tree.FetchThread(c.Request.Context(), postID, depth)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, nest(nodes))
}

// GetReplies returns the replies below a comment down to ?depth= levels
func (h *CommentHandler) GetReplies(c *gin.Context) {
	commentID, err := paramID(c, "commentId")
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	depth, err := queryDepth(c, defaultDepth)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	nodes, err := h.tree.FetchSubtree(c.Request.Context(), commentID, depth)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, nest(nodes))
}

// CreateComment adds a comment or reply to a post (PROTECTED - requires authentication)
func (h *CommentHandler) CreateComment(c *gin.Context) {
	authorID, ok := extractUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	postID, err := paramID(c, "id")
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	var input models.CreateCommentRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		bindError(c, err)
		return
	}

	comment, err := h.tree.Insert(c.Request.Context(), postID, authorID, input.ParentID, input.Body)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusCreated, comment)
}

// DeleteComment removes a comment and all its replies (PROTECTED - author only)
func (h *CommentHandler) DeleteComment(c *gin.Context) {
	userID, ok := extractUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	commentID, err := paramID(c, "commentId")
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	ctx := c.Request.Context()

	comment, err := h.tree.Get(ctx, commentID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	if comment.AuthorID != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "You can only delete your own comments"})
		return
	}

	removed, err := h.tree.DeleteSubtree(ctx, commentID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Comment deleted successfully", "removed": removed})
}

// VoteComment casts the caller's vote on a comment (PROTECTED - requires authentication)
func (h *CommentHandler) VoteComment(c *gin.Context) {
	castVote(c, h.ledger, h.log, models.TargetComment, "commentId")
}

// RecountComment rebuilds the comment's counters from the vote ledger
func (h *CommentHandler) RecountComment(c *gin.Context) {
	recount(c, h.projector, h.log, models.TargetComment, "commentId")
}
