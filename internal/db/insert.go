package db

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// Identifiable is implemented by model structs that carry their own ObjectID.
type Identifiable interface {
	GenIDIfEmpty()
	GenID()
	GetID() primitive.ObjectID
}

// InsertOne inserts a document, generating its ID if empty. On a duplicate key
// collision the ID is regenerated and the insert retried. Returns the inserted
// document.
func InsertOne(ctx context.Context, collection *mongo.Collection, doc Identifiable) (Identifiable, error) {
	attempt := 0
	operation := func() error {
		if attempt == 0 {
			doc.GenIDIfEmpty()
		} else {
			doc.GenID()
		}
		attempt++
		_, err := collection.InsertOne(ctx, doc)
		return err
	}
	if err := Try(operation); err != nil {
		return nil, fmt.Errorf("failed to insert document into %s: %w", collection.Name(), err)
	}
	return doc, nil
}
