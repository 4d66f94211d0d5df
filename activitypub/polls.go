package activitypub

import (
	"context"
	"errors"
	"time"

	"github.com/davecheney/solo/internal/algorithms"
	"github.com/davecheney/solo/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// handleVote records answer as a vote on the local question and
// republishes the question with the new tally.
func (in *inbox) handleVote(answer *models.InboxObject, question *models.OutboxObject) error {
	log := in.log.With("question", question.APID)
	if end := timeFromAnyOrZero(question.APObject["endTime"]); !end.IsZero() && time.Now().After(end) {
		log.Info("vote on closed poll")
		return nil
	}
	name := stringFromAny(answer.APObject["name"])
	pollType, _ := pollOptions(question.APObject)
	if !algorithms.Contains(pollOptionNames(question.APObject), name) {
		log.Info("vote for unknown option", "name", name)
		return nil
	}

	answer.IsTransient = true
	if err := in.tx.Model(answer).UpdateColumn("is_transient", true).Error; err != nil {
		return err
	}
	answers := models.NewPollAnswers(in.tx)
	if err := answers.Record(&models.PollAnswer{
		OutboxObjectID: question.ID,
		InboxObjectID:  answer.ID,
		ActorID:        answer.ActorID,
		PollType:       pollType,
		Name:           name,
	}); err != nil {
		return err
	}
	tally, err := answers.Tally(question.ID)
	if err != nil {
		return err
	}

	question.APObject = tallied(question.APObject, tally, time.Now())
	if err := models.NewOutboxObjects(in.tx).Save(question); err != nil {
		return err
	}
	recipients, err := in.env.Recipients(in.ctx, in.tx, question.APObject)
	if err != nil {
		return err
	}
	log.Info("vote recorded", "name", name, "voters", tally.Voters)
	_, err = in.env.sendUpdate(in.tx, question, recipients)
	return err
}

// tallied returns a copy of question with its counts replaced by tally.
func tallied(question map[string]any, tally *models.Tally, updated time.Time) map[string]any {
	doc := clone(question)
	pollType, options := pollOptions(question)
	items := make([]any, 0, len(options))
	for _, opt := range options {
		opt := clone(opt)
		name := stringFromAny(opt["name"])
		opt["replies"] = map[string]any{
			"type":       "Collection",
			"totalItems": tally.Counts[name],
		}
		items = append(items, opt)
	}
	doc[pollType] = items
	doc["votersCount"] = tally.Voters
	doc["updated"] = formatTime(updated)
	return doc
}

// SendVote answers the remote Question questionAPID with one Note per
// chosen option.
func (e *Env) SendVote(ctx context.Context, questionAPID string, names []string) ([]*models.OutboxObject, error) {
	question, err := models.NewInboxObjects(e.DB).FindByAPID(questionAPID)
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, validationError("unknown question %s", questionAPID)
	case err != nil:
		return nil, err
	}
	if question.APType != "Question" {
		return nil, validationError("%s is a %s, not a Question", questionAPID, question.APType)
	}
	if end := timeFromAnyOrZero(question.APObject["endTime"]); !end.IsZero() && time.Now().After(end) {
		return nil, validationError("poll %s is closed", questionAPID)
	}
	if len(question.VotedForAnswers) > 0 {
		return nil, validationError("already voted on %s", questionAPID)
	}
	names = algorithms.Uniq(names)
	pollType, _ := pollOptions(question.APObject)
	switch {
	case len(names) == 0:
		return nil, validationError("no answers chosen")
	case pollType == "oneOf" && len(names) > 1:
		return nil, validationError("%s accepts a single answer", questionAPID)
	}
	options := pollOptionNames(question.APObject)
	for _, name := range names {
		if !algorithms.Contains(options, name) {
			return nil, validationError("%q is not an option of %s", name, questionAPID)
		}
	}

	recipients, err := e.Recipients(ctx, e.DB, map[string]any{
		"to": []any{question.APActorID},
	})
	if err != nil {
		return nil, err
	}
	var votes []*models.OutboxObject
	err = e.Transaction(func(tx *gorm.DB) error {
		for _, name := range names {
			publicID, id := e.newObject()
			vote := e.outboxObject(publicID, map[string]any{
				"@context":     activityStreamsContext,
				"type":         "Note",
				"id":           id,
				"attributedTo": e.Local.ID(),
				"name":         name,
				"inReplyTo":    question.APID,
				"to":           []string{question.APActorID},
				"cc":           []string{},
				"published":    formatTime(time.Now()),
			})
			vote.IsTransient = true
			vote.IsHiddenFromHomepage = true
			vote.Conversation = question.Conversation
			if err := models.NewOutboxObjects(tx).Create(vote); err != nil {
				return err
			}
			if err := e.enqueue(tx, vote.Ref(), recipients...); err != nil {
				return err
			}
			votes = append(votes, vote)
		}
		return tx.Model(question).UpdateColumn("voted_for_answers", datatypes.JSONSlice[string](names)).Error
	})
	if err != nil {
		return nil, err
	}
	for _, vote := range votes {
		authored(vote)
	}
	return votes, nil
}
