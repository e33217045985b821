package models

// EmailTemplate is a localized email template stored in the database.
// Subject and Body are Go text/template strings rendered against the task
// payload's data map.
type EmailTemplate struct {
	TemplateID string `bson:"template_id" json:"template_id"`
	Locale     string `bson:"locale" json:"locale"`
	Subject    string `bson:"subject" json:"subject"`
	Body       string `bson:"body" json:"body"`
}
