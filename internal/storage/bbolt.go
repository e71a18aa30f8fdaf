package storage

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"tetatet/internal/auth"
	"tetatet/internal/models"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

var (
	bucketUsers     = []byte("users")
	bucketUserNames = []byte("user_names")
	bucketMessages  = []byte("messages")
	bucketPushSubs  = []byte("push_subscriptions")
)

type BboltStorage struct {
	db *bbolt.DB
}

func NewBboltStorage(path string) (*BboltStorage, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketUsers); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketUserNames); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketMessages); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketPushSubs); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BboltStorage{db: db}, nil
}

func (s *BboltStorage) Close() error {
	return s.db.Close()
}

// UpsertCredentials stores new or updated user credentials and maintains the
// username index.
func (s *BboltStorage) UpsertCredentials(credentials auth.UserCredentials) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		dbUser := &DBUser{
			ID:           credentials.ID,
			UserName:     credentials.UserName,
			DisplayName:  credentials.DisplayName,
			AvatarURL:    credentials.AvatarURL,
			LastSeen:     credentials.LastSeen,
			PasswordHash: credentials.PasswordHash,
			Status:       string(credentials.Status),
		}

		data, err := dbUser.MarshalBinary()
		if err != nil {
			return err
		}
		if err := b.Put(dbUser.Key(), data); err != nil {
			return err
		}
		return tx.Bucket(bucketUserNames).Put([]byte(dbUser.UserName), dbUser.Key())
	})
}

// FindUser looks up a user by their stable identifier.
func (s *BboltStorage) FindUser(id string) (models.User, error) {
	var user models.User
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketUsers).Get([]byte(id))
		if data == nil {
			return models.ErrNotFound
		}
		var dbUser DBUser
		if err := dbUser.UnmarshalBinary(data); err != nil {
			return err
		}
		user = dbUser.toModel()
		return nil
	})
	return user, err
}

// FindUserByName resolves a username through the index bucket.
func (s *BboltStorage) FindUserByName(username string) (models.User, error) {
	var id string
	err := s.db.View(func(tx *bbolt.Tx) error {
		key := tx.Bucket(bucketUserNames).Get([]byte(username))
		if key == nil {
			return models.ErrNotFound
		}
		id = string(key)
		return nil
	})
	if err != nil {
		return models.User{}, err
	}
	return s.FindUser(id)
}

// FindCredentialsByName returns the full credential record for a username.
func (s *BboltStorage) FindCredentialsByName(username string) (auth.UserCredentials, error) {
	var creds auth.UserCredentials
	err := s.db.View(func(tx *bbolt.Tx) error {
		key := tx.Bucket(bucketUserNames).Get([]byte(username))
		if key == nil {
			return models.ErrNotFound
		}
		data := tx.Bucket(bucketUsers).Get(key)
		if data == nil {
			return models.ErrNotFound
		}
		var dbUser DBUser
		if err := dbUser.UnmarshalBinary(data); err != nil {
			return err
		}
		creds = auth.UserCredentials{
			User:         dbUser.toModel(),
			PasswordHash: dbUser.PasswordHash,
		}
		return nil
	})
	return creds, err
}

// ListUsers returns all users sorted by display name.
func (s *BboltStorage) ListUsers() ([]models.User, error) {
	var users []models.User
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketUsers).ForEach(func(k, v []byte) error {
			var dbUser DBUser
			if err := dbUser.UnmarshalBinary(v); err != nil {
				return err
			}
			users = append(users, dbUser.toModel())
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(users, func(i, j int) bool {
		return users[i].DisplayName < users[j].DisplayName
	})
	return users, nil
}

// TouchLastSeen records the last time a user's connection was observed.
func (s *BboltStorage) TouchLastSeen(id string, at time.Time) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		data := b.Get([]byte(id))
		if data == nil {
			return models.ErrNotFound
		}
		var dbUser DBUser
		if err := dbUser.UnmarshalBinary(data); err != nil {
			return err
		}
		dbUser.LastSeen = at.Unix()
		updated, err := dbUser.MarshalBinary()
		if err != nil {
			return err
		}
		return b.Put(dbUser.Key(), updated)
	})
}

// CreateMessage persists a message, assigning its durable identifier and a
// per-conversation sequence number.
func (s *BboltStorage) CreateMessage(senderID, receiverID, content, contentHTML string) (models.Message, error) {
	var msg models.Message
	err := s.db.Update(func(tx *bbolt.Tx) error {
		convBucket, err := tx.Bucket(bucketMessages).CreateBucketIfNotExists([]byte(conversationID(senderID, receiverID)))
		if err != nil {
			return fmt.Errorf("failed to create conversation bucket: %w", err)
		}

		seq, err := convBucket.NextSequence()
		if err != nil {
			return err
		}

		dbMessage := DBMessage{
			ID:          uuid.NewString(),
			Seq:         int64(seq),
			SenderID:    senderID,
			ReceiverID:  receiverID,
			Content:     content,
			ContentHTML: contentHTML,
			CreatedAt:   time.Now().UnixMilli(),
		}

		data, err := dbMessage.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		if err := convBucket.Put(dbMessage.Key(), data); err != nil {
			return fmt.Errorf("failed to put message: %w", err)
		}

		msg = dbMessage.toModel()
		return nil
	})
	return msg, err
}

// ListConversation returns up to limit most recent messages between two users
// in ascending sequence order. limit <= 0 means no limit.
func (s *BboltStorage) ListConversation(userA, userB string, limit int) ([]models.Message, error) {
	var messages []models.Message
	err := s.db.View(func(tx *bbolt.Tx) error {
		convBucket := tx.Bucket(bucketMessages).Bucket([]byte(conversationID(userA, userB)))
		if convBucket == nil {
			return nil // no messages yet
		}
		return convBucket.ForEach(func(k, v []byte) error {
			var dbMsg DBMessage
			if err := dbMsg.UnmarshalBinary(v); err != nil {
				return err
			}
			messages = append(messages, dbMsg.toModel())
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}
	return messages, nil
}

// UpsertPushSubscription stores a Web Push subscription for a user.
func (s *BboltStorage) UpsertPushSubscription(sub models.PushSubscription) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		dbSub := &DBPushSubscription{
			UserID:   sub.UserID,
			Endpoint: sub.Endpoint,
			P256dh:   sub.P256dh,
			Auth:     sub.Auth,
		}
		data, err := dbSub.MarshalBinary()
		if err != nil {
			return err
		}
		return tx.Bucket(bucketPushSubs).Put(dbSub.Key(), data)
	})
}

// ListPushSubscriptions returns all subscriptions registered by a user.
func (s *BboltStorage) ListPushSubscriptions(userID string) ([]models.PushSubscription, error) {
	var subs []models.PushSubscription
	prefix := []byte(userID + "\x00")
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketPushSubs).Cursor()
		for k, v := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, v = c.Next() {
			var dbSub DBPushSubscription
			if err := dbSub.UnmarshalBinary(v); err != nil {
				return err
			}
			subs = append(subs, models.PushSubscription{
				UserID:   dbSub.UserID,
				Endpoint: dbSub.Endpoint,
				P256dh:   dbSub.P256dh,
				Auth:     dbSub.Auth,
			})
		}
		return nil
	})
	return subs, err
}

// DeletePushSubscription removes a single subscription, e.g. after the push
// service reports it gone.
func (s *BboltStorage) DeletePushSubscription(userID, endpoint string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		dbSub := &DBPushSubscription{UserID: userID, Endpoint: endpoint}
		return tx.Bucket(bucketPushSubs).Delete(dbSub.Key())
	})
}

func (u *DBUser) toModel() models.User {
	return models.User{
		ID:          u.ID,
		UserName:    u.UserName,
		DisplayName: u.DisplayName,
		AvatarURL:   u.AvatarURL,
		LastSeen:    u.LastSeen,
		Status:      models.UserStatus(u.Status),
	}
}

func (m *DBMessage) toModel() models.Message {
	return models.Message{
		ID:          m.ID,
		Seq:         m.Seq,
		SenderID:    m.SenderID,
		ReceiverID:  m.ReceiverID,
		Content:     m.Content,
		ContentHTML: m.ContentHTML,
		CreatedAt:   m.CreatedAt,
	}
}

// conversationID builds a deterministic key for the pair of participants so
// both directions land in the same bucket.
func conversationID(u1, u2 string) string {
	ids := []string{u1, u2}
	sort.Strings(ids)
	return ids[0] + ":" + ids[1]
}
