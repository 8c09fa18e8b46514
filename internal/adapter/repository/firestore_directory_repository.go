package repository

import (
	"context"
	"log"
	"strings"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"rosterchat/internal/domain/entity"
	"rosterchat/internal/domain/repository"
	"rosterchat/pkg/errors"
)

const usersCollection = "users"

type firestoreDirectoryRepository struct {
	client *firestore.Client
}

func NewFirestoreDirectoryRepository(client *firestore.Client) repository.DirectoryRepository {
	return &firestoreDirectoryRepository{
		client: client,
	}
}

// FindByEmail tries the address as typed first, then lower-cased, since
// profiles are written by the auth layer without normalization.
func (r *firestoreDirectoryRepository) FindByEmail(ctx context.Context, email string) (*entity.User, error) {
	trimmed := strings.TrimSpace(email)
	if trimmed == "" {
		return nil, errors.NotFound("User", nil)
	}

	user, err := r.findOneByEmail(ctx, trimmed)
	if err == nil || !errors.Is(err, errors.CodeNotFound) {
		return user, err
	}

	lowered := strings.ToLower(trimmed)
	if lowered == trimmed {
		return nil, err
	}
	return r.findOneByEmail(ctx, lowered)
}

func (r *firestoreDirectoryRepository) findOneByEmail(ctx context.Context, email string) (*entity.User, error) {
	iter := r.client.Collection(usersCollection).Where("email", "==", email).Limit(1).Documents(ctx)
	defer iter.Stop()

	doc, err := iter.Next()
	if err == iterator.Done {
		return nil, errors.NotFound("User", nil)
	}
	if err != nil {
		log.Printf("Firestore error while looking up user by email: %v", err)
		return nil, errors.Internal("Failed to look up user", err)
	}

	return decodeUser(doc)
}

func (r *firestoreDirectoryRepository) FindByID(ctx context.Context, id string) (*entity.User, error) {
	doc, err := r.client.Collection(usersCollection).Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, errors.NotFound("User", err)
		}
		return nil, errors.Internal("Failed to get user", err)
	}

	return decodeUser(doc)
}

func (r *firestoreDirectoryRepository) Watch(ctx context.Context) (repository.DirectoryIterator, error) {
	return &firestoreDirectoryIterator{it: r.client.Collection(usersCollection).Snapshots(ctx)}, nil
}

type firestoreDirectoryIterator struct {
	it *firestore.QuerySnapshotIterator
}

func (i *firestoreDirectoryIterator) Next() (map[string]*entity.User, error) {
	snap, err := i.it.Next()
	if err != nil {
		return nil, err
	}
	docs, err := snap.Documents.GetAll()
	if err != nil {
		return nil, err
	}

	users := make(map[string]*entity.User, len(docs))
	for _, doc := range docs {
		user, err := decodeUser(doc)
		if err != nil {
			log.Printf("Skipping malformed user %s: %v", doc.Ref.ID, err)
			continue
		}
		users[user.ID] = user
	}
	return users, nil
}

func (i *firestoreDirectoryIterator) Stop() {
	i.it.Stop()
}

func decodeUser(doc *firestore.DocumentSnapshot) (*entity.User, error) {
	var user entity.User
	if err := doc.DataTo(&user); err != nil {
		return nil, errors.Internal("Failed to parse user data", err)
	}
	user.ID = doc.Ref.ID
	return &user, nil
}
