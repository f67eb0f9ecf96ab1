package model

// FAQ question statuses.
const (
	QuestionUnanswered = "unanswered"
	QuestionAnswered   = "answered"
	QuestionHidden     = "hidden"
)

// FAQQuestion is a buyer question attached to a product.
type FAQQuestion struct {
	ProductID   string `json:"product_id,omitempty"`
	ProductName string `json:"product_name,omitempty"` // joined by the server
	Question    string `json:"question,omitempty"`
	AskerName   string `json:"asker_name,omitempty"`
	Status      string `json:"status,omitempty"`
	AnswerCount int64  `json:"answer_count,omitempty"`
}

func (FAQQuestion) Kind() Kind { return KindFAQQuestion }

func (q FAQQuestion) Validate() error {
	if q.ProductID == "" {
		return invalid(KindFAQQuestion, "product_id is required")
	}
	if q.Question == "" {
		return invalid(KindFAQQuestion, "question is required")
	}
	switch q.Status {
	case "", QuestionUnanswered, QuestionAnswered, QuestionHidden:
	default:
		return invalid(KindFAQQuestion, "unknown status %q", q.Status)
	}
	return nil
}

func (q FAQQuestion) SearchText() []string {
	return []string{q.Question, q.ProductName}
}

func (q FAQQuestion) StatusValue() string { return q.Status }

// FAQAnswer is the seller's (or another buyer's) reply to a question.
type FAQAnswer struct {
	QuestionID string `json:"question_id,omitempty"`
	Body       string `json:"body,omitempty"`
	AuthorName string `json:"author_name,omitempty"`
	Edited     bool   `json:"edited,omitempty"`
}

func (FAQAnswer) Kind() Kind { return KindFAQAnswer }

func (a FAQAnswer) Validate() error {
	if a.QuestionID == "" {
		return invalid(KindFAQAnswer, "question_id is required")
	}
	if a.Body == "" {
		return invalid(KindFAQAnswer, "body is required")
	}
	return nil
}

func (a FAQAnswer) SearchText() []string {
	return []string{a.Body, a.AuthorName}
}
