package models

import (
	"time"

	"github.com/davecheney/solo/internal/snowflake"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PollAnswer is one vote for one option of a local Question.
type PollAnswer struct {
	ID             snowflake.ID `gorm:"primarykey;autoIncrement:false"`
	CreatedAt      time.Time
	OutboxObjectID snowflake.ID `gorm:"not null;uniqueIndex:uidx_poll_answers_question_actor_name"`
	// InboxObjectID is the vote Note.
	InboxObjectID snowflake.ID `gorm:"not null"`
	ActorID       snowflake.ID `gorm:"not null;uniqueIndex:uidx_poll_answers_question_actor_name"`
	// PollType is oneOf or anyOf.
	PollType string `gorm:"size:8;not null"`
	Name     string `gorm:"size:255;not null;uniqueIndex:uidx_poll_answers_question_actor_name"`
}

// Tally is the result of a poll.
type Tally struct {
	Voters int64
	Counts map[string]int64
}

type PollAnswers struct {
	db *gorm.DB
}

func NewPollAnswers(db *gorm.DB) *PollAnswers {
	return &PollAnswers{db: db}
}

// Record stores a vote. Repeated votes for the same option are ignored.
func (p *PollAnswers) Record(answer *PollAnswer) error {
	if answer.ID == 0 {
		answer.ID = snowflake.Now()
	}
	return p.db.Clauses(clause.OnConflict{DoNothing: true}).Create(answer).Error
}

// Tally counts the distinct voters of question and the votes per option.
func (p *PollAnswers) Tally(question snowflake.ID) (*Tally, error) {
	t := Tally{Counts: make(map[string]int64)}
	if err := p.db.Model(&PollAnswer{}).Where("outbox_object_id = ?", question).Distinct("actor_id").Count(&t.Voters).Error; err != nil {
		return nil, err
	}
	var rows []struct {
		Name  string
		Total int64
	}
	if err := p.db.Model(&PollAnswer{}).Select("name, COUNT(*) AS total").Where("outbox_object_id = ?", question).Group("name").Scan(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		t.Counts[row.Name] = row.Total
	}
	return &t, nil
}
