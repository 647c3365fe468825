// Package mongo stores the analytics collections in MongoDB, the layout the
// site used before: page_stats, unique_visitors (TTL on lastVisit) and info
// (accounts).
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/wadjakorntonsri/portfolio-analytics/pkg/core/domain"
	"github.com/wadjakorntonsri/portfolio-analytics/pkg/ports"
)

const (
	pageStatsCollection = "page_stats"
	visitsCollection    = "unique_visitors"
	usersCollection     = "info"

	ttlIndexName = "ttl_lastVisit_1h"

	namespaceNotFoundCode = 26
	indexNotFoundCode     = 27
)

type Store struct {
	client *mongo.Client
	pages  *mongo.Collection
	visits *mongo.Collection
	users  *mongo.Collection
	window time.Duration
}

// NewStore connects to uri and ensures the indexes exist. window sets the TTL
// index on unique_visitors.lastVisit.
func NewStore(ctx context.Context, uri, database string, window time.Duration) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	db := client.Database(database)
	s := &Store{
		client: client,
		pages:  db.Collection(pageStatsCollection),
		visits: db.Collection(visitsCollection),
		users:  db.Collection(usersCollection),
		window: window,
	}

	if _, err := s.EnsureSchema(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *Store) Ping(ctx context.Context) error {
	return domain.StoreErr("mongo ping", s.client.Ping(ctx, nil))
}

// EnsureSchema creates the TTL and uniqueness indexes. CreateOne is a no-op
// when an identical index already exists; a TTL index left from a different
// window is updated in place with collMod.
func (s *Store) EnsureSchema(ctx context.Context) ([]string, error) {
	var results []string
	ttl := int32(s.window / time.Second)

	current, found, err := s.ttlSeconds(ctx)
	if err != nil {
		return results, err
	}
	switch {
	case found && current != ttl:
		err := s.visits.Database().RunCommand(ctx, bson.D{
			{Key: "collMod", Value: visitsCollection},
			{Key: "index", Value: bson.D{
				{Key: "name", Value: ttlIndexName},
				{Key: "expireAfterSeconds", Value: ttl},
			}},
		}).Err()
		if err != nil {
			return results, fmt.Errorf("update TTL index: %w", err)
		}
		results = append(results, fmt.Sprintf("TTL index %s updated from %ds to %ds", ttlIndexName, current, ttl))
	case !found:
		_, err = s.visits.Indexes().CreateOne(ctx, mongo.IndexModel{
			Keys: bson.D{{Key: "lastVisit", Value: 1}},
			Options: options.Index().
				SetName(ttlIndexName).
				SetExpireAfterSeconds(ttl),
		})
		if err != nil {
			return results, fmt.Errorf("create TTL index: %w", err)
		}
		results = append(results, "TTL index "+ttlIndexName+" ready")
	default:
		results = append(results, "TTL index "+ttlIndexName+" ready")
	}

	_, err = s.visits.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "visitorKey", Value: 1}},
		Options: options.Index().SetName("visitorKey_unique").SetUnique(true),
	})
	if err != nil {
		return results, fmt.Errorf("create visitor index: %w", err)
	}
	results = append(results, "unique visitorKey index ready")

	_, err = s.pages.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "page", Value: 1}},
		Options: options.Index().SetName("page_unique").SetUnique(true),
	})
	if err != nil {
		return results, fmt.Errorf("create page index: %w", err)
	}
	results = append(results, "unique page index ready")

	return results, nil
}

// ttlSeconds returns the expireAfterSeconds of the existing TTL index.
func (s *Store) ttlSeconds(ctx context.Context) (int32, bool, error) {
	specs, err := s.visits.Indexes().ListSpecifications(ctx)
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) && cmdErr.Code == namespaceNotFoundCode {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("list indexes: %w", err)
	}
	for _, spec := range specs {
		if spec.Name == ttlIndexName && spec.ExpireAfterSeconds != nil {
			return *spec.ExpireAfterSeconds, true, nil
		}
	}
	return 0, false, nil
}

// ListIndexes reports the indexes on unique_visitors.
func (s *Store) ListIndexes(ctx context.Context) ([]domain.IndexInfo, error) {
	specs, err := s.visits.Indexes().ListSpecifications(ctx)
	if err != nil {
		return nil, domain.StoreErr("mongo list indexes", err)
	}
	out := make([]domain.IndexInfo, 0, len(specs))
	for _, spec := range specs {
		ix := domain.IndexInfo{
			Name:      spec.Name,
			Keys:      spec.KeysDocument.String(),
			Protected: spec.Name == "_id_",
		}
		if spec.Unique != nil {
			ix.Unique = *spec.Unique
		}
		if spec.ExpireAfterSeconds != nil {
			ix.ExpireAfterSeconds = int64(*spec.ExpireAfterSeconds)
		}
		out = append(out, ix)
	}
	return out, nil
}

// DropIndex drops one index on unique_visitors. EnsureSchema recreates the
// managed ones.
func (s *Store) DropIndex(ctx context.Context, name string) error {
	if name == "_id_" {
		return &domain.ValidationError{Field: "name", Message: "Index _id_ cannot be dropped"}
	}
	_, err := s.visits.Indexes().DropOne(ctx, name)
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) && cmdErr.Code == indexNotFoundCode {
		return domain.ErrIndexNotFound
	}
	return domain.StoreErr("mongo drop index", err)
}

// --- Visit deduplication store ---

func (s *Store) UpsertOrRefresh(ctx context.Context, visit *domain.Visit, now time.Time, window time.Duration) (bool, error) {
	// The TTL monitor runs about once a minute, so a stale document can
	// still be returned; filter on lastVisit explicitly.
	filter := bson.M{
		"visitorKey": visit.VisitorKey,
		"lastVisit":  bson.M{"$gte": now.Add(-window)},
	}
	err := s.visits.FindOne(ctx, filter).Err()
	if err == nil {
		_, err = s.visits.UpdateOne(ctx,
			bson.M{"visitorKey": visit.VisitorKey},
			bson.M{"$set": bson.M{"lastVisit": now, "page": visit.Page}})
		return false, domain.StoreErr("mongo refresh visit", err)
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return false, domain.StoreErr("mongo find visit", err)
	}

	doc := *visit
	doc.LastVisit = now
	_, err = s.visits.ReplaceOne(ctx,
		bson.M{"visitorKey": visit.VisitorKey}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return false, domain.StoreErr("mongo insert visit", err)
	}
	return true, nil
}

func (s *Store) GetVisit(ctx context.Context, visitorKey string) (*domain.Visit, error) {
	var v domain.Visit
	err := s.visits.FindOne(ctx, bson.M{"visitorKey": visitorKey}).Decode(&v)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.StoreErr("mongo get visit", err)
	}
	return &v, nil
}

func (s *Store) Sweep(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.visits.DeleteMany(ctx, bson.M{"lastVisit": bson.M{"$lt": cutoff}})
	if err != nil {
		return 0, domain.StoreErr("mongo sweep visits", err)
	}
	return res.DeletedCount, nil
}

func (s *Store) VisitStats(ctx context.Context, sampleSize int) (*domain.VisitStats, error) {
	count, err := s.visits.CountDocuments(ctx, bson.M{})
	if err != nil {
		return nil, domain.StoreErr("mongo count visits", err)
	}

	opts := options.Find().SetSort(bson.D{{Key: "lastVisit", Value: -1}}).SetLimit(int64(sampleSize))
	cursor, err := s.visits.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, domain.StoreErr("mongo sample visits", err)
	}
	defer cursor.Close(ctx)

	samples := []domain.Visit{}
	if err := cursor.All(ctx, &samples); err != nil {
		return nil, domain.StoreErr("mongo decode visits", err)
	}
	return &domain.VisitStats{Count: count, Samples: samples}, nil
}

// --- Page counter store ---

// ApplyEvent is one UpdateOne with upsert: $setOnInsert seeds createdAt and
// $inc creates or bumps every counter in the same operation.
func (s *Store) ApplyEvent(ctx context.Context, delta domain.PageDelta, now time.Time) error {
	update := bson.M{
		"$set":         bson.M{"lastUpdated": now},
		"$setOnInsert": bson.M{"createdAt": now},
		"$inc": bson.M{
			"totalViews":      delta.Views,
			"totalClicks":     delta.Clicks,
			"registeredUsers": delta.Registered,
			"anonymousUsers":  delta.Anonymous,
		},
	}
	_, err := s.pages.UpdateOne(ctx, bson.M{"page": delta.Page}, update, options.Update().SetUpsert(true))
	return domain.StoreErr("mongo apply page event", err)
}

func (s *Store) GetPageStats(ctx context.Context, page string) (*domain.PageStats, error) {
	var p domain.PageStats
	err := s.pages.FindOne(ctx, bson.M{"page": page}).Decode(&p)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.StoreErr("mongo get page stats", err)
	}
	return &p, nil
}

func (s *Store) ListPageStats(ctx context.Context) ([]domain.PageStats, error) {
	opts := options.Find().SetSort(bson.D{{Key: "totalViews", Value: -1}, {Key: "page", Value: 1}})
	cursor, err := s.pages.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, domain.StoreErr("mongo list page stats", err)
	}
	defer cursor.Close(ctx)

	pages := []domain.PageStats{}
	if err := cursor.All(ctx, &pages); err != nil {
		return nil, domain.StoreErr("mongo decode page stats", err)
	}
	return pages, nil
}

// --- User directory ---

// userDoc tolerates both ObjectID and string _id values.
type userDoc struct {
	ID        bson.RawValue `bson:"_id"`
	Email     string        `bson:"email"`
	Name      string        `bson:"name"`
	Role      string        `bson:"role"`
	Status    string        `bson:"status"`
	IsActive  *bool         `bson:"isActive"`
	Password  string        `bson:"password"`
	CreatedAt time.Time     `bson:"createdAt"`
	LastLogin *time.Time    `bson:"lastLogin"`
}

func (d *userDoc) toDomain() *domain.User {
	u := &domain.User{
		Email:        d.Email,
		Name:         d.Name,
		Role:         d.Role,
		Status:       d.Status,
		IsActive:     d.IsActive == nil || *d.IsActive,
		PasswordHash: d.Password,
		CreatedAt:    d.CreatedAt,
		LastLogin:    d.LastLogin,
	}
	if oid, ok := d.ID.ObjectIDOK(); ok {
		u.ID = oid.Hex()
	} else if str, ok := d.ID.StringValueOK(); ok {
		u.ID = str
	}
	return u
}

func userIDFilter(id string) bson.M {
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		return bson.M{"_id": bson.M{"$in": bson.A{oid, id}}}
	}
	return bson.M{"_id": id}
}

func (s *Store) GetUser(ctx context.Context, id string) (*domain.User, error) {
	var doc userDoc
	err := s.users.FindOne(ctx, userIDFilter(id)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, domain.StoreErr("mongo get user", err)
	}
	return doc.toDomain(), nil
}

func (s *Store) SaveUser(ctx context.Context, user *domain.User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}
	set := bson.M{
		"email":    user.Email,
		"name":     user.Name,
		"role":     user.Role,
		"status":   user.Status,
		"isActive": user.IsActive,
	}
	if user.PasswordHash != "" {
		set["password"] = user.PasswordHash
	}
	if user.LastLogin != nil {
		set["lastLogin"] = *user.LastLogin
	}
	update := bson.M{
		"$set":         set,
		"$setOnInsert": bson.M{"createdAt": user.CreatedAt},
	}
	_, err := s.users.UpdateOne(ctx, userIDFilter(user.ID), update, options.Update().SetUpsert(true))
	return domain.StoreErr("mongo save user", err)
}

func (s *Store) CountSignupsSince(ctx context.Context, since time.Time) (int64, error) {
	n, err := s.users.CountDocuments(ctx, bson.M{"createdAt": bson.M{"$gte": since}})
	return n, domain.StoreErr("mongo count signups", err)
}

func (s *Store) CountActiveSince(ctx context.Context, since time.Time) (int64, error) {
	n, err := s.users.CountDocuments(ctx, bson.M{
		"status":    domain.StatusOnline,
		"lastLogin": bson.M{"$gte": since},
	})
	return n, domain.StoreErr("mongo count active users", err)
}

var (
	_ ports.VisitStore       = (*Store)(nil)
	_ ports.PageCounterStore = (*Store)(nil)
	_ ports.UserDirectory    = (*Store)(nil)
	_ ports.SchemaManager    = (*Store)(nil)
	_ ports.IndexManager     = (*Store)(nil)
)
