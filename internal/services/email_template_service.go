package services

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"rentfold/rf/internal/models"
)

// Default email templates used as fallback when not found in database
var defaultEmailTemplates = map[string]models.EmailTemplate{
	"invitation": {
		TemplateID: "invitation",
		Locale:     "en-US",
		Subject:    "You have been invited to apply for a rental",
		Body:       "You were invited to apply for {{.propertyAddress}}. {{.message}} Accept here: {{.acceptLink}}",
	},
	"rent_due": {
		TemplateID: "rent_due",
		Locale:     "en-US",
		Subject:    "Rent payment due soon",
		Body:       "Your rent of {{.amount}} is due on {{.dueDate}}.",
	},
	"invoice_sent": {
		TemplateID: "invoice_sent",
		Locale:     "en-US",
		Subject:    "New invoice {{.invoiceNumber}}",
		Body:       "Invoice {{.invoiceNumber}} for {{.total}} {{.currency}} is due by {{.dueDate}}.",
	},
	"invoice_overdue": {
		TemplateID: "invoice_overdue",
		Locale:     "en-US",
		Subject:    "Invoice {{.invoiceNumber}} is overdue",
		Body:       "Invoice {{.invoiceNumber}} for {{.total}} {{.currency}} is past due. A late fee of {{.lateFee}} may apply.",
	},
	"lease_rejected": {
		TemplateID: "lease_rejected",
		Locale:     "en-US",
		Subject:    "Lease terms were declined",
		Body:       "The renter declined the lease terms. Reason: {{.reason}}",
	},
	"notice": {
		TemplateID: "notice",
		Locale:     "en-US",
		Subject:    "{{.subject}}",
		Body:       "{{.body}}",
	},
}

// IEmailTemplateService defines the interface for email template operations.
type IEmailTemplateService interface {
	GetTemplate(ctx context.Context, templateID, locale string) (*models.EmailTemplate, error)
}

const emailTemplatesCollection = "email_templates"

// EmailTemplateService handles operations related to email templates
type EmailTemplateService struct {
	db *mongo.Database
}

// NewEmailTemplateService creates a new instance of EmailTemplateService
func NewEmailTemplateService(db *mongo.Database) *EmailTemplateService {
	return &EmailTemplateService{
		db: db,
	}
}

// GetTemplate retrieves an email template by ID and locale
func (s *EmailTemplateService) GetTemplate(ctx context.Context, templateID string, locale string) (*models.EmailTemplate, error) {
	collection := s.db.Collection(emailTemplatesCollection)
	filter := bson.M{
		"template_id": templateID,
		"locale":      locale,
	}

	var template models.EmailTemplate
	err := collection.FindOne(ctx, filter).Decode(&template)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			// If template not found in DB, try to get from defaults
			if defaultTemplate, ok := defaultEmailTemplates[templateID]; ok {
				return &defaultTemplate, nil
			}
			return nil, fmt.Errorf("template not found: %s (locale: %s)", templateID, locale)
		}
		return nil, fmt.Errorf("error retrieving template: %w", err)
	}

	return &template, nil
}

// SaveTemplate saves an email template to the database
func (s *EmailTemplateService) SaveTemplate(ctx context.Context, template *models.EmailTemplate) error {
	collection := s.db.Collection(emailTemplatesCollection)
	filter := bson.M{
		"template_id": template.TemplateID,
		"locale":      template.Locale,
	}

	update := bson.M{"$set": template}
	opts := options.Update().SetUpsert(true)

	_, err := collection.UpdateOne(ctx, filter, update, opts)
	if err != nil {
		return fmt.Errorf("error saving template: %w", err)
	}

	return nil
}
