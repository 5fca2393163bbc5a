package domain

import (
	"encoding/json"
	"time"
)

// Rating is the four-level recall grade recorded for a question.
type Rating int

const (
	RatingWrong    Rating = -1
	RatingUnsure   Rating = 0
	RatingPartial  Rating = 1
	RatingMastered Rating = 2
)

// Valid reports whether r is one of the known grades.
func (r Rating) Valid() bool {
	return r >= RatingWrong && r <= RatingMastered
}

// QuestionType distinguishes flip cards from multiple choice.
type QuestionType string

const (
	QuestionFlashcard QuestionType = "flashcard"
	QuestionMCQ       QuestionType = "mcq"
)

// Media is one side of a card.
type Media struct {
	Text  string `json:"text,omitempty"`
	Image string `json:"image,omitempty"`
	Audio string `json:"audio,omitempty"`
}

// Option is a multiple-choice answer.
type Option struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	IsCorrect bool   `json:"isCorrect"`
}

// Question is a single card of a lesson.
type Question struct {
	ID         string       `json:"id"`
	Type       QuestionType `json:"type"`
	Question   Media        `json:"question"`
	Answer     Media        `json:"answer"`
	Options    []Option     `json:"options,omitempty"`
	LastRating *Rating      `json:"lastRating,omitempty"`
}

// Content is the rarely changing part of a lesson. A nil Questions slice means
// "not part of this update"; a non-nil empty slice means "no questions".
type Content struct {
	Title     string     `json:"title,omitempty"`
	Label     string     `json:"label,omitempty"`
	Standard  string     `json:"standard,omitempty"`
	Syllabus  string     `json:"syllabus,omitempty"`
	Medium    string     `json:"medium,omitempty"`
	Subject   string     `json:"subject,omitempty"`
	Cost      *int       `json:"cost,omitempty"`
	IsPublic  *bool      `json:"isPublic,omitempty"`
	Questions []Question `json:"questions,omitempty"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// HasFields reports whether any content field is set.
func (c Content) HasFields() bool {
	return c.Questions != nil || c.Title != "" || c.Label != "" || c.Standard != "" ||
		c.Syllabus != "" || c.Medium != "" || c.Subject != "" || c.Cost != nil || c.IsPublic != nil
}

// Overlay returns c with every field set in in applied on top. Questions are
// replaced only when in carries them.
func (c Content) Overlay(in Content) Content {
	out := c
	if in.Title != "" {
		out.Title = in.Title
	}
	if in.Label != "" {
		out.Label = in.Label
	}
	if in.Standard != "" {
		out.Standard = in.Standard
	}
	if in.Syllabus != "" {
		out.Syllabus = in.Syllabus
	}
	if in.Medium != "" {
		out.Medium = in.Medium
	}
	if in.Subject != "" {
		out.Subject = in.Subject
	}
	if in.Cost != nil {
		out.Cost = in.Cost
	}
	if in.IsPublic != nil {
		out.IsPublic = in.IsPublic
	}
	if in.Questions != nil {
		out.Questions = in.Questions
	}
	return out
}

// Progress is the review state of a lesson, rewritten on every study session.
type Progress struct {
	LastSessionIndex       *int              `json:"lastSessionIndex,omitempty"`
	Ratings                map[string]Rating `json:"ratings,omitempty"`
	LastReviewed           *time.Time        `json:"lastReviewed,omitempty"`
	NextReview             *time.Time        `json:"nextReview,omitempty"`
	ReviewStage            *int              `json:"reviewStage,omitempty"`
	LastMarks              *float64          `json:"lastMarks,omitempty"`
	CardsCountAtLastReview *int              `json:"cardsCountAtLastReview,omitempty"`
	ProgressUpdatedAt      time.Time         `json:"progressUpdatedAt"`
}

// HasFields reports whether any progress field is set; the timestamp is ignored.
func (p Progress) HasFields() bool {
	return p.LastSessionIndex != nil || len(p.Ratings) > 0 || p.LastReviewed != nil || p.NextReview != nil ||
		p.ReviewStage != nil || p.LastMarks != nil || p.CardsCountAtLastReview != nil
}

// Overlay returns p with every field set in in applied on top. Ratings are merged key by key.
func (p Progress) Overlay(in Progress) Progress {
	out := p
	if in.LastSessionIndex != nil {
		out.LastSessionIndex = in.LastSessionIndex
	}
	if len(in.Ratings) > 0 {
		merged := make(map[string]Rating, len(p.Ratings)+len(in.Ratings))
		for k, v := range p.Ratings {
			merged[k] = v
		}
		for k, v := range in.Ratings {
			merged[k] = v
		}
		out.Ratings = merged
	}
	if in.LastReviewed != nil {
		out.LastReviewed = in.LastReviewed
	}
	if in.NextReview != nil {
		out.NextReview = in.NextReview
	}
	if in.ReviewStage != nil {
		out.ReviewStage = in.ReviewStage
	}
	if in.LastMarks != nil {
		out.LastMarks = in.LastMarks
	}
	if in.CardsCountAtLastReview != nil {
		out.CardsCountAtLastReview = in.CardsCountAtLastReview
	}
	return out
}

// Lesson (also called a stack) is the unit of study material.
type Lesson struct {
	ID           string     `json:"id"`
	DriveFileID  string     `json:"driveFileId,omitempty"`
	ModifiedTime *time.Time `json:"modifiedTime,omitempty"`
	Content
	Progress
}

// WithRatings copies the ratings map onto each question's LastRating.
func (l Lesson) WithRatings() Lesson {
	if len(l.Ratings) == 0 || len(l.Questions) == 0 {
		return l
	}
	questions := make([]Question, len(l.Questions))
	copy(questions, l.Questions)
	for i := range questions {
		if r, ok := l.Ratings[questions[i].ID]; ok {
			r := r
			questions[i].LastRating = &r
		}
	}
	l.Questions = questions
	return l
}

// Descriptor returns the lightweight index entry for l.
func (l Lesson) Descriptor() Descriptor {
	return Descriptor{
		ID:               l.ID,
		Title:            l.Title,
		Label:            l.Label,
		Standard:         l.Standard,
		Syllabus:         l.Syllabus,
		Medium:           l.Medium,
		Subject:          l.Subject,
		Cost:             l.Cost,
		IsPublic:         l.IsPublic,
		CardCount:        len(l.Questions),
		DriveFileID:      l.DriveFileID,
		ModifiedTime:     l.ModifiedTime,
		UpdatedAt:        l.UpdatedAt,
		LastSessionIndex: l.LastSessionIndex,
		LastReviewed:     l.LastReviewed,
		NextReview:       l.NextReview,
	}
}

// Descriptor is a metadata index entry: a lesson without question bodies.
type Descriptor struct {
	ID               string     `json:"id"`
	Title            string     `json:"title,omitempty"`
	Label            string     `json:"label,omitempty"`
	Standard         string     `json:"standard,omitempty"`
	Syllabus         string     `json:"syllabus,omitempty"`
	Medium           string     `json:"medium,omitempty"`
	Subject          string     `json:"subject,omitempty"`
	Cost             *int       `json:"cost,omitempty"`
	IsPublic         *bool      `json:"isPublic,omitempty"`
	CardCount        int        `json:"cardCount"`
	DriveFileID      string     `json:"driveFileId,omitempty"`
	ModifiedTime     *time.Time `json:"modifiedTime,omitempty"`
	UpdatedAt        time.Time  `json:"updatedAt"`
	LastSessionIndex *int       `json:"lastSessionIndex,omitempty"`
	LastReviewed     *time.Time `json:"lastReviewed,omitempty"`
	NextReview       *time.Time `json:"nextReview,omitempty"`
}

// Overlay applies the fields set in remote on top of d.
func (d Descriptor) Overlay(remote Descriptor) Descriptor {
	out := d
	c := Content{Title: d.Title, Label: d.Label, Standard: d.Standard, Syllabus: d.Syllabus,
		Medium: d.Medium, Subject: d.Subject, Cost: d.Cost, IsPublic: d.IsPublic}.Overlay(Content{
		Title: remote.Title, Label: remote.Label, Standard: remote.Standard, Syllabus: remote.Syllabus,
		Medium: remote.Medium, Subject: remote.Subject, Cost: remote.Cost, IsPublic: remote.IsPublic,
	})
	out.Title, out.Label, out.Standard, out.Syllabus = c.Title, c.Label, c.Standard, c.Syllabus
	out.Medium, out.Subject, out.Cost, out.IsPublic = c.Medium, c.Subject, c.Cost, c.IsPublic
	if remote.CardCount > 0 {
		out.CardCount = remote.CardCount
	}
	if remote.DriveFileID != "" {
		out.DriveFileID = remote.DriveFileID
	}
	if remote.ModifiedTime != nil {
		out.ModifiedTime = remote.ModifiedTime
	}
	if !remote.UpdatedAt.IsZero() {
		out.UpdatedAt = remote.UpdatedAt
	}
	if remote.LastSessionIndex != nil {
		out.LastSessionIndex = remote.LastSessionIndex
	}
	if remote.LastReviewed != nil {
		out.LastReviewed = remote.LastReviewed
	}
	if remote.NextReview != nil {
		out.NextReview = remote.NextReview
	}
	return out
}

// Stub returns a lesson holding only the descriptor's non-content fields.
func (d Descriptor) Stub() Lesson {
	return Lesson{
		ID:           d.ID,
		DriveFileID:  d.DriveFileID,
		ModifiedTime: d.ModifiedTime,
		Content: Content{
			Title:    d.Title,
			Label:    d.Label,
			Standard: d.Standard,
			Syllabus: d.Syllabus,
			Medium:   d.Medium,
			Subject:  d.Subject,
			Cost:     d.Cost,
			IsPublic: d.IsPublic,
		},
	}
}

// FileHandle identifies a document in the remote store.
type FileHandle struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	ModifiedTime time.Time `json:"modifiedTime"`
}

// Document is what gets written to the remote store: clear metadata plus an opaque body.
type Document struct {
	Name     string          `json:"name"`
	Metadata Descriptor      `json:"metadata"`
	Body     json.RawMessage `json:"body"`
}

// CompositeKey scopes a lesson id to its owner.
func CompositeKey(userID, lessonID string) string {
	return userID + "_" + lessonID
}
