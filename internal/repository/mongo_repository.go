package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"notes-sync-indexer/internal/domain"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const (
	chunksCollection   = "notes"
	sessionsCollection = "sessions"
	reportsCollection  = "sync_reports"

	DefaultVectorIndex   = "vector_index"
	DefaultNumCandidates = 100
)

// ConnectMongo opens a client and checks the server answers.
func ConnectMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	return client, nil
}

type mongoChunkDoc struct {
	ID                     string `bson:"_id"`
	domain.StoredNoteChunk `bson:",inline"`
}

type mongoScoredDoc struct {
	domain.StoredNoteChunk `bson:",inline"`
	Score                  float64 `bson:"score"`
}

type mongoChunkRepository struct {
	db            *mongo.Database
	vectorIndex   string
	numCandidates int
}

// NewMongoChunkRepository stores chunks in a collection served by an Atlas
// vector search index over the embeddings field.
func NewMongoChunkRepository(db *mongo.Database, vectorIndex string, numCandidates int) ChunkRepository {
	if vectorIndex == "" {
		vectorIndex = DefaultVectorIndex
	}
	if numCandidates <= 0 {
		numCandidates = DefaultNumCandidates
	}
	return &mongoChunkRepository{
		db:            db,
		vectorIndex:   vectorIndex,
		numCandidates: numCandidates,
	}
}

func (r *mongoChunkRepository) chunks() *mongo.Collection { return r.db.Collection(chunksCollection) }

// EnsureMongoChunkIndexes creates the secondary indexes used by the cursor
// and stale-chunk queries. The vector index is managed in Atlas.
func EnsureMongoChunkIndexes(ctx context.Context, db *mongo.Database) error {
	_, err := db.Collection(chunksCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "note_id", Value: 1}}},
		{Keys: bson.D{{Key: "owner_id", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create chunk indexes: %w", err)
	}
	return nil
}

func (r *mongoChunkRepository) Upsert(ctx context.Context, chunk *domain.StoredNoteChunk) error {
	doc := mongoChunkDoc{ID: chunk.RecordID, StoredNoteChunk: *chunk}

	_, err := r.chunks().ReplaceOne(ctx,
		bson.M{"_id": chunk.RecordID},
		doc,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return storageError("upsert", chunk.RecordID, err)
	}
	return nil
}

func (r *mongoChunkRepository) LastEditedDates(ctx context.Context) (domain.SyncCursor, error) {
	opts := options.Find().SetProjection(bson.M{"record_id": 1, "note_id": 1, "chunk_count": 1, "last_edited_date": 1})
	cur, err := r.chunks().Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, storageError("last edited dates", "", err)
	}
	defer cur.Close(ctx)

	builder := domain.NewCursorBuilder()
	for cur.Next(ctx) {
		var doc struct {
			RecordID       string `bson:"record_id"`
			NoteID         string `bson:"note_id"`
			ChunkCount     int    `bson:"chunk_count"`
			LastEditedDate int64  `bson:"last_edited_date"`
		}
		if err := cur.Decode(&doc); err != nil {
			continue
		}
		key := doc.NoteID
		if key == "" {
			key = doc.RecordID
		}
		builder.Add(key, doc.LastEditedDate, doc.ChunkCount)
	}
	if err := cur.Err(); err != nil {
		return nil, storageError("last edited dates", "", err)
	}

	return builder.Cursor(), nil
}

func (r *mongoChunkRepository) DeleteStale(ctx context.Context, noteID string, keep []string) (int, error) {
	if keep == nil {
		keep = []string{}
	}
	res, err := r.chunks().DeleteMany(ctx, bson.M{
		"note_id":   noteID,
		"record_id": bson.M{"$nin": keep},
	})
	if err != nil {
		return 0, storageError("delete stale", noteID, err)
	}
	return int(res.DeletedCount), nil
}

func (r *mongoChunkRepository) SimilaritySearch(ctx context.Context, vector []float32, filter domain.SearchFilter, limit int) ([]domain.ScoredChunk, error) {
	if limit <= 0 {
		limit = 5
	}

	search := bson.M{
		"index":         r.vectorIndex,
		"path":          "embeddings",
		"queryVector":   vector,
		"numCandidates": r.numCandidates,
		"limit":         limit,
	}
	if filter.OwnerID != "" {
		search["filter"] = bson.M{"owner_id": filter.OwnerID}
	}

	pipeline := mongo.Pipeline{
		{{Key: "$vectorSearch", Value: search}},
		{{Key: "$project", Value: bson.M{
			"embeddings": 0,
			"score":      bson.M{"$meta": "vectorSearchScore"},
		}}},
	}

	cur, err := r.chunks().Aggregate(ctx, pipeline)
	if err != nil {
		return nil, storageError("similarity search", "", err)
	}
	defer cur.Close(ctx)

	var results []domain.ScoredChunk
	for cur.Next(ctx) {
		var doc mongoScoredDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, storageError("similarity search", "", err)
		}
		results = append(results, domain.ScoredChunk{StoredNoteChunk: doc.StoredNoteChunk, Score: doc.Score})
	}
	if err := cur.Err(); err != nil {
		return nil, storageError("similarity search", "", err)
	}

	return results, nil
}

type mongoSessionDoc struct {
	ID             string `bson:"_id"`
	domain.Session `bson:",inline"`
}

type mongoSessionRepository struct {
	db *mongo.Database
}

func NewMongoSessionRepository(db *mongo.Database) SessionRepository {
	return &mongoSessionRepository{db: db}
}

func (r *mongoSessionRepository) sessions() *mongo.Collection {
	return r.db.Collection(sessionsCollection)
}

func (r *mongoSessionRepository) Save(ctx context.Context, session *domain.Session) error {
	id := sessionDocID(session.Username, session.Environment)
	session.UpdatedAt = time.Now()

	_, err := r.sessions().ReplaceOne(ctx,
		bson.M{"_id": id},
		mongoSessionDoc{ID: id, Session: *session},
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return storageError("save session", id, err)
	}
	return nil
}

func (r *mongoSessionRepository) Load(ctx context.Context, username, environment string) (*domain.Session, error) {
	id := sessionDocID(username, environment)

	var doc mongoSessionDoc
	if err := r.sessions().FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotFound
		}
		return nil, storageError("load session", id, err)
	}

	session := doc.Session
	if session.Material.Cookies == nil {
		session.Material.Cookies = make(map[string]string)
	}
	return &session, nil
}

func (r *mongoSessionRepository) Delete(ctx context.Context, username, environment string) error {
	id := sessionDocID(username, environment)
	if _, err := r.sessions().DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return storageError("delete session", id, err)
	}
	return nil
}

type mongoReportDoc struct {
	ID                string `bson:"_id"`
	domain.SyncReport `bson:",inline"`
}

type mongoReportRepository struct {
	db *mongo.Database
}

func NewMongoReportRepository(db *mongo.Database) ReportRepository {
	return &mongoReportRepository{db: db}
}

func (r *mongoReportRepository) Save(ctx context.Context, report *domain.SyncReport) error {
	_, err := r.db.Collection(reportsCollection).ReplaceOne(ctx,
		bson.M{"_id": lastReportDocID},
		mongoReportDoc{ID: lastReportDocID, SyncReport: *report},
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return storageError("save report", report.RunID, err)
	}
	return nil
}

func (r *mongoReportRepository) Last(ctx context.Context) (*domain.SyncReport, error) {
	var doc mongoReportDoc
	err := r.db.Collection(reportsCollection).FindOne(ctx, bson.M{"_id": lastReportDocID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotFound
		}
		return nil, storageError("load report", lastReportDocID, err)
	}
	report := doc.SyncReport
	return &report, nil
}
