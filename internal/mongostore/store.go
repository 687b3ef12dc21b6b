// Package mongostore is the MongoDB document store. It mirrors the
// relational store: int64 document ids come from a counters collection and
// the url field carries a unique index.
package mongostore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/x/mongo/driver/connstring"

	"horse.fit/newsradar/internal/minhash"
	"horse.fit/newsradar/internal/news"
)

const (
	collDocuments      = "documents"
	collCounters       = "counters"
	collDuplicatePairs = "duplicate_pairs"
	collSeenURLs       = "seen_urls"
	collIngestRuns     = "ingest_runs"
	collStoryRuns      = "story_runs"
)

type Store struct {
	client         *mongo.Client
	database       *mongo.Database
	documents      *mongo.Collection
	counters       *mongo.Collection
	duplicatePairs *mongo.Collection
	seenURLs       *mongo.Collection
	ingestRuns     *mongo.Collection
	storyRuns      *mongo.Collection
}

// Open connects, pings and ensures indexes. The database name comes from
// the URI path, falling back to defaultDatabase.
func Open(ctx context.Context, uri, defaultDatabase string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping MongoDB: %w", err)
	}

	db := client.Database(DatabaseName(uri, defaultDatabase))
	s := &Store{
		client:         client,
		database:       db,
		documents:      db.Collection(collDocuments),
		counters:       db.Collection(collCounters),
		duplicatePairs: db.Collection(collDuplicatePairs),
		seenURLs:       db.Collection(collSeenURLs),
		ingestRuns:     db.Collection(collIngestRuns),
		storyRuns:      db.Collection(collStoryRuns),
	}
	if err := s.createIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("create indexes: %w", err)
	}
	return s, nil
}

// DatabaseName returns the database named in uri, or fallback.
func DatabaseName(uri, fallback string) string {
	cs, err := connstring.ParseAndValidate(uri)
	if err == nil && strings.TrimSpace(cs.Database) != "" {
		return cs.Database
	}
	if strings.TrimSpace(fallback) == "" {
		return "newsradar"
	}
	return fallback
}

func (s *Store) createIndexes(ctx context.Context) error {
	specs := []struct {
		coll  *mongo.Collection
		model mongo.IndexModel
	}{
		{s.documents, mongo.IndexModel{Keys: bson.D{{Key: "url", Value: 1}}, Options: options.Index().SetUnique(true)}},
		{s.documents, mongo.IndexModel{Keys: bson.D{{Key: "effective_at", Value: 1}}}},
		{s.documents, mongo.IndexModel{Keys: bson.D{{Key: "fetched_at", Value: 1}}}},
		{s.duplicatePairs, mongo.IndexModel{Keys: bson.D{{Key: "document_a_id", Value: 1}, {Key: "document_b_id", Value: 1}}, Options: options.Index().SetUnique(true)}},
		{s.seenURLs, mongo.IndexModel{Keys: bson.D{{Key: "url", Value: 1}}, Options: options.Index().SetUnique(true)}},
		{s.seenURLs, mongo.IndexModel{Keys: bson.D{{Key: "seen_at", Value: 1}}}},
		{s.ingestRuns, mongo.IndexModel{Keys: bson.D{{Key: "run_uuid", Value: 1}}, Options: options.Index().SetUnique(true)}},
		{s.storyRuns, mongo.IndexModel{Keys: bson.D{{Key: "created_at", Value: -1}}}},
	}
	for _, spec := range specs {
		if _, err := spec.coll.Indexes().CreateOne(ctx, spec.model); err != nil {
			return fmt.Errorf("%s: %w", spec.coll.Name(), err)
		}
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

type documentRecord struct {
	ID           int64      `bson:"_id"`
	Source       string     `bson:"source"`
	URL          string     `bson:"url"`
	Title        string     `bson:"title"`
	Body         string     `bson:"body"`
	PublishedAt  *time.Time `bson:"published_at,omitempty"`
	FetchedAt    time.Time  `bson:"fetched_at"`
	EffectiveAt  time.Time  `bson:"effective_at"`
	WordCount    int        `bson:"word_count"`
	ContentHash  []byte     `bson:"content_hash,omitempty"`
	TitleHash    []byte     `bson:"title_hash,omitempty"`
	Language     string     `bson:"language"`
	Category     string     `bson:"category"`
	Signature    []byte     `bson:"signature,omitempty"`
	StoryLabel   *string    `bson:"story_label,omitempty"`
	QualityScore *float64   `bson:"quality_score,omitempty"`
	BatchKey     string     `bson:"batch_key,omitempty"`
	CreatedAt    time.Time  `bson:"created_at"`
}

func (r documentRecord) toDocument() (news.Document, error) {
	doc := news.Document{
		ID:           r.ID,
		Source:       r.Source,
		URL:          r.URL,
		Title:        r.Title,
		Body:         r.Body,
		FetchedAt:    r.FetchedAt.UTC(),
		WordCount:    r.WordCount,
		ContentHash:  r.ContentHash,
		TitleHash:    r.TitleHash,
		Language:     r.Language,
		Category:     r.Category,
		StoryLabel:   r.StoryLabel,
		QualityScore: r.QualityScore,
	}
	if r.PublishedAt != nil {
		at := r.PublishedAt.UTC()
		doc.PublishedAt = &at
	}
	if len(r.Signature) > 0 {
		sig, err := minhash.Decode(r.Signature)
		if err != nil {
			return news.Document{}, fmt.Errorf("document %d: %w", r.ID, err)
		}
		doc.Signature = sig
	}
	return doc, nil
}

func (s *Store) nextID(ctx context.Context, name string) (int64, error) {
	var counter struct {
		Seq int64 `bson:"seq"`
	}
	err := s.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": name},
		bson.M{"$inc": bson.M{"seq": int64(1)}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	if err != nil {
		return 0, err
	}
	return counter.Seq, nil
}

// UpsertDocuments inserts each document unless its URL is already stored.
// There is no multi-document transaction without a replica set, so every
// record carries the key of the batch that wrote it: when the writer
// retries a batch after a partial failure, rows written by the earlier
// attempt are reported as inserted again instead of as conflicts.
func (s *Store) UpsertDocuments(ctx context.Context, docs []news.Document) ([]news.Document, int, error) {
	return upsertBatch(ctx, mongoDocuments{s}, docs, time.Now().UTC())
}

// documentOps is the per-record storage upsertBatch runs on.
type documentOps interface {
	// findByURL returns the id and batch key of the record holding url.
	findByURL(ctx context.Context, url string) (id int64, batchKey string, found bool, err error)
	allocateID(ctx context.Context) (int64, error)
	// insert reports a unique url violation as errURLTaken.
	insert(ctx context.Context, rec documentRecord) error
}

var errURLTaken = errors.New("url already stored")

// batchKey identifies a batch by its URLs in order. Retries of one batch
// share it.
func batchKey(docs []news.Document) string {
	h := sha256.New()
	for _, doc := range docs {
		_, _ = io.WriteString(h, doc.URL)
		_, _ = h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil)[:16])
}

func upsertBatch(ctx context.Context, ops documentOps, docs []news.Document, now time.Time) ([]news.Document, int, error) {
	key := batchKey(docs)
	inserted := make([]news.Document, 0, len(docs))
	conflicts := 0
	handled := make(map[string]struct{}, len(docs))
	for _, doc := range docs {
		if _, dup := handled[doc.URL]; dup {
			conflicts++
			continue
		}
		handled[doc.URL] = struct{}{}

		id, owner, found, err := ops.findByURL(ctx, doc.URL)
		if err != nil {
			return nil, 0, news.Persistence("upsert documents", fmt.Errorf("look up %s: %w", doc.URL, err))
		}
		if found {
			if owner == key {
				doc.ID = id
				inserted = append(inserted, doc)
			} else {
				conflicts++
			}
			continue
		}

		id, err = ops.allocateID(ctx)
		if err != nil {
			return nil, 0, news.Persistence("upsert documents", fmt.Errorf("allocate id: %w", err))
		}
		rec := newDocumentRecord(id, doc, now)
		rec.BatchKey = key
		if err := ops.insert(ctx, rec); err != nil {
			if errors.Is(err, errURLTaken) {
				conflicts++
				continue
			}
			return nil, 0, news.Persistence("upsert documents", fmt.Errorf("insert %s: %w", doc.URL, err))
		}
		doc.ID = id
		inserted = append(inserted, doc)
	}
	return inserted, conflicts, nil
}

func newDocumentRecord(id int64, doc news.Document, now time.Time) documentRecord {
	rec := documentRecord{
		ID:           id,
		Source:       doc.Source,
		URL:          doc.URL,
		Title:        doc.Title,
		Body:         doc.Body,
		FetchedAt:    doc.FetchedAt.UTC(),
		EffectiveAt:  doc.EffectiveAt(),
		WordCount:    doc.WordCount,
		ContentHash:  doc.ContentHash,
		TitleHash:    doc.TitleHash,
		Language:     doc.Language,
		Category:     doc.Category,
		StoryLabel:   doc.StoryLabel,
		QualityScore: doc.QualityScore,
		CreatedAt:    now,
	}
	if doc.HasPublishedAt() {
		at := doc.PublishedAt.UTC()
		rec.PublishedAt = &at
	}
	if len(doc.Signature) > 0 {
		rec.Signature = minhash.Signature(doc.Signature).Encode()
	}
	return rec
}

type mongoDocuments struct {
	s *Store
}

func (m mongoDocuments) findByURL(ctx context.Context, url string) (int64, string, bool, error) {
	var rec struct {
		ID       int64  `bson:"_id"`
		BatchKey string `bson:"batch_key"`
	}
	err := m.s.documents.FindOne(ctx, bson.M{"url": url},
		options.FindOne().SetProjection(bson.M{"_id": 1, "batch_key": 1}),
	).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, "", false, nil
	}
	if err != nil {
		return 0, "", false, err
	}
	return rec.ID, rec.BatchKey, true, nil
}

func (m mongoDocuments) allocateID(ctx context.Context) (int64, error) {
	return m.s.nextID(ctx, collDocuments)
}

func (m mongoDocuments) insert(ctx context.Context, rec documentRecord) error {
	_, err := m.s.documents.InsertOne(ctx, rec)
	if mongo.IsDuplicateKeyError(err) {
		return errURLTaken
	}
	return err
}

func (s *Store) URLExists(ctx context.Context, url string) (bool, error) {
	n, err := s.documents.CountDocuments(ctx, bson.M{"url": url}, options.Count().SetLimit(1))
	if err != nil {
		return false, news.Persistence("url exists", err)
	}
	return n > 0, nil
}

// KnownURLsSince lists stored document URLs fetched at or after since,
// followed by the duplicate URLs recorded since then.
func (s *Store) KnownURLsSince(ctx context.Context, since time.Time) ([]string, error) {
	docURLs, err := s.urlsSince(ctx, s.documents, "fetched_at", since)
	if err != nil {
		return nil, err
	}
	seenURLs, err := s.urlsSince(ctx, s.seenURLs, "seen_at", since)
	if err != nil {
		return nil, err
	}
	return append(docURLs, seenURLs...), nil
}

func (s *Store) urlsSince(ctx context.Context, coll *mongo.Collection, field string, since time.Time) ([]string, error) {
	cursor, err := coll.Find(ctx,
		bson.M{field: bson.M{"$gte": since.UTC()}},
		options.Find().SetProjection(bson.M{"url": 1}).SetSort(bson.D{{Key: "_id", Value: 1}}),
	)
	if err != nil {
		return nil, news.Persistence("known urls", err)
	}
	defer cursor.Close(ctx)

	var out []string
	for cursor.Next(ctx) {
		var rec struct {
			URL string `bson:"url"`
		}
		if err := cursor.Decode(&rec); err != nil {
			return nil, news.Persistence("known urls", err)
		}
		out = append(out, rec.URL)
	}
	if err := cursor.Err(); err != nil {
		return nil, news.Persistence("known urls", err)
	}
	return out, nil
}

// RecordSeenURLs upserts URLs whose body matched a stored document.
func (s *Store) RecordSeenURLs(ctx context.Context, urls []string) error {
	if len(urls) == 0 {
		return nil
	}
	now := time.Now().UTC()
	models := make([]mongo.WriteModel, 0, len(urls))
	for _, u := range urls {
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"url": u}).
			SetUpdate(bson.M{"$set": bson.M{"seen_at": now}}).
			SetUpsert(true))
	}
	if _, err := s.seenURLs.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false)); err != nil {
		return news.Persistence("record seen urls", err)
	}
	return nil
}

func (s *Store) KnownContentHashesSince(ctx context.Context, since time.Time) ([][]byte, error) {
	cursor, err := s.documents.Find(ctx,
		bson.M{"fetched_at": bson.M{"$gte": since.UTC()}, "content_hash": bson.M{"$exists": true}},
		options.Find().SetProjection(bson.M{"content_hash": 1}),
	)
	if err != nil {
		return nil, news.Persistence("known content hashes", err)
	}
	defer cursor.Close(ctx)

	var out [][]byte
	for cursor.Next(ctx) {
		var rec struct {
			ContentHash []byte `bson:"content_hash"`
		}
		if err := cursor.Decode(&rec); err != nil {
			return nil, news.Persistence("known content hashes", err)
		}
		if len(rec.ContentHash) > 0 {
			out = append(out, rec.ContentHash)
		}
	}
	if err := cursor.Err(); err != nil {
		return nil, news.Persistence("known content hashes", err)
	}
	return out, nil
}

func (s *Store) ListDocumentsInWindow(ctx context.Context, from, to time.Time, limit int) ([]news.Document, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be > 0")
	}
	if !from.Before(to) {
		return nil, fmt.Errorf("from must be before to")
	}
	cursor, err := s.documents.Find(ctx,
		bson.M{"effective_at": bson.M{"$gte": from.UTC(), "$lt": to.UTC()}},
		options.Find().
			SetSort(bson.D{{Key: "effective_at", Value: -1}, {Key: "_id", Value: -1}}).
			SetLimit(int64(limit)),
	)
	if err != nil {
		return nil, news.Persistence("list documents", err)
	}
	defer cursor.Close(ctx)

	var out []news.Document
	for cursor.Next(ctx) {
		var rec documentRecord
		if err := cursor.Decode(&rec); err != nil {
			return nil, news.Persistence("list documents", err)
		}
		doc, err := rec.toDocument()
		if err != nil {
			return nil, news.Persistence("list documents", err)
		}
		out = append(out, doc)
	}
	if err := cursor.Err(); err != nil {
		return nil, news.Persistence("list documents", err)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *Store) UpdateSignatures(ctx context.Context, sigs map[int64][]uint64) error {
	if len(sigs) == 0 {
		return nil
	}
	models := make([]mongo.WriteModel, 0, len(sigs))
	for id, sig := range sigs {
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"_id": id}).
			SetUpdate(bson.M{"$set": bson.M{"signature": minhash.Signature(sig).Encode()}}))
	}
	if _, err := s.documents.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false)); err != nil {
		return news.Persistence("update signatures", err)
	}
	return nil
}

type pairRecord struct {
	DocumentAID    int64     `bson:"document_a_id"`
	DocumentBID    int64     `bson:"document_b_id"`
	Similarity     float64   `bson:"similarity"`
	Classification string    `bson:"classification"`
	DetectedAt     time.Time `bson:"detected_at"`
}

func (s *Store) SaveDuplicatePairs(ctx context.Context, pairs []news.DuplicatePair) (int, error) {
	if len(pairs) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	models := make([]mongo.WriteModel, 0, len(pairs))
	for _, pair := range pairs {
		a, b := pair.A, pair.B
		if a > b {
			a, b = b, a
		}
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"document_a_id": a, "document_b_id": b}).
			SetUpdate(bson.M{"$set": pairRecord{
				DocumentAID:    a,
				DocumentBID:    b,
				Similarity:     pair.Similarity,
				Classification: string(pair.Class),
				DetectedAt:     now,
			}}).
			SetUpsert(true))
	}
	if _, err := s.duplicatePairs.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false)); err != nil {
		return 0, news.Persistence("save duplicate pairs", err)
	}
	return len(pairs), nil
}

func (s *Store) ListDuplicatePairs(ctx context.Context, since time.Time, limit int) ([]news.DuplicatePair, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be > 0")
	}
	cursor, err := s.duplicatePairs.Find(ctx,
		bson.M{"detected_at": bson.M{"$gte": since.UTC()}},
		options.Find().
			SetSort(bson.D{{Key: "similarity", Value: -1}, {Key: "document_a_id", Value: 1}, {Key: "document_b_id", Value: 1}}).
			SetLimit(int64(limit)),
	)
	if err != nil {
		return nil, news.Persistence("list duplicate pairs", err)
	}
	defer cursor.Close(ctx)

	var out []news.DuplicatePair
	for cursor.Next(ctx) {
		var rec pairRecord
		if err := cursor.Decode(&rec); err != nil {
			return nil, news.Persistence("list duplicate pairs", err)
		}
		out = append(out, news.DuplicatePair{
			A:          rec.DocumentAID,
			B:          rec.DocumentBID,
			Similarity: rec.Similarity,
			Class:      news.PairClass(rec.Classification),
		})
	}
	if err := cursor.Err(); err != nil {
		return nil, news.Persistence("list duplicate pairs", err)
	}
	return out, nil
}

// Ingest and story runs are stored as single documents with their
// sources and clusters embedded, in the JSON shape of the news types.

func (s *Store) SaveIngestRun(ctx context.Context, run news.IngestRun) error {
	if run.UUID == "" {
		return fmt.Errorf("run uuid is required")
	}
	_, err := s.ingestRuns.ReplaceOne(ctx,
		bson.M{"run_uuid": run.UUID},
		ingestRunRecord(run),
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return news.Persistence("save ingest run", err)
	}
	return nil
}

func ingestRunRecord(run news.IngestRun) bson.M {
	sources := make(bson.A, 0, len(run.Sources))
	for _, src := range run.Sources {
		sources = append(sources, bson.M{
			"source":     src.Source,
			"discovered": src.Counts.Discovered,
			"attempted":  src.Counts.Attempted,
			"fetched":    src.Counts.Fetched,
			"accepted":   src.Counts.Accepted,
			"duplicate":  src.Counts.Duplicate,
			"rejected":   src.Counts.Rejected,
			"failed":     src.Counts.Failed,
			"error":      src.Error,
		})
	}
	rec := bson.M{
		"run_uuid":   run.UUID,
		"started_at": run.StartedAt.UTC(),
		"dry_run":    run.DryRun,
		"health":     string(run.Health),
		"persisted":  run.Persisted,
		"sources":    sources,
	}
	if run.FinishedAt != nil {
		rec["finished_at"] = run.FinishedAt.UTC()
	}
	return rec
}

type ingestRunDecoded struct {
	RunUUID    string     `bson:"run_uuid"`
	StartedAt  time.Time  `bson:"started_at"`
	FinishedAt *time.Time `bson:"finished_at"`
	DryRun     bool       `bson:"dry_run"`
	Health     string     `bson:"health"`
	Persisted  int        `bson:"persisted"`
	Sources    []struct {
		Source     string `bson:"source"`
		Discovered int    `bson:"discovered"`
		Attempted  int    `bson:"attempted"`
		Fetched    int    `bson:"fetched"`
		Accepted   int    `bson:"accepted"`
		Duplicate  int    `bson:"duplicate"`
		Rejected   int    `bson:"rejected"`
		Failed     int    `bson:"failed"`
		Error      string `bson:"error"`
	} `bson:"sources"`
}

func (s *Store) ListIngestRuns(ctx context.Context, limit int) ([]news.IngestRun, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be > 0")
	}
	cursor, err := s.ingestRuns.Find(ctx, bson.M{},
		options.Find().SetSort(bson.D{{Key: "started_at", Value: -1}}).SetLimit(int64(limit)))
	if err != nil {
		return nil, news.Persistence("list ingest runs", err)
	}
	defer cursor.Close(ctx)

	var out []news.IngestRun
	for cursor.Next(ctx) {
		var rec ingestRunDecoded
		if err := cursor.Decode(&rec); err != nil {
			return nil, news.Persistence("list ingest runs", err)
		}
		run := news.IngestRun{
			UUID:      rec.RunUUID,
			StartedAt: rec.StartedAt.UTC(),
			DryRun:    rec.DryRun,
			Health:    news.Health(rec.Health),
			Persisted: rec.Persisted,
		}
		if rec.FinishedAt != nil {
			at := rec.FinishedAt.UTC()
			run.FinishedAt = &at
		}
		for _, src := range rec.Sources {
			run.Sources = append(run.Sources, news.SourceRun{
				Source: src.Source,
				Counts: news.SourceCounts{
					Discovered: src.Discovered,
					Attempted:  src.Attempted,
					Fetched:    src.Fetched,
					Accepted:   src.Accepted,
					Duplicate:  src.Duplicate,
					Rejected:   src.Rejected,
					Failed:     src.Failed,
				},
				Error: src.Error,
			})
		}
		out = append(out, run)
	}
	if err := cursor.Err(); err != nil {
		return nil, news.Persistence("list ingest runs", err)
	}
	return out, nil
}

type storyClusterRecord struct {
	Rank                int       `bson:"rank"`
	Label               string    `bson:"label"`
	RepresentativeTitle string    `bson:"representative_title"`
	RepresentativeID    int64     `bson:"representative_id"`
	MemberIDs           []int64   `bson:"member_ids"`
	ArticleCount        int       `bson:"article_count"`
	SourceCount         int       `bson:"source_count"`
	Velocity            float64   `bson:"velocity"`
	Recency             float64   `bson:"recency"`
	Engagement          float64   `bson:"engagement"`
	TrendingScore       float64   `bson:"trending_score"`
	FirstSeen           time.Time `bson:"first_seen"`
	LastSeen            time.Time `bson:"last_seen"`
}

type storyRunRecord struct {
	RunUUID      string               `bson:"run_uuid"`
	WindowStart  time.Time            `bson:"window_start"`
	WindowEnd    time.Time            `bson:"window_end"`
	FeatureLevel string               `bson:"feature_level"`
	Documents    int                  `bson:"documents"`
	Rejected     int                  `bson:"rejected"`
	Noise        int                  `bson:"noise"`
	Eps          float64              `bson:"eps"`
	MinPts       int                  `bson:"min_pts"`
	Shrunk       bool                 `bson:"shrunk"`
	CreatedAt    time.Time            `bson:"created_at"`
	Clusters     []storyClusterRecord `bson:"clusters"`
}

func (s *Store) SaveStoryRun(ctx context.Context, run *news.StoryRun) error {
	if run == nil || run.UUID == "" {
		return fmt.Errorf("story run with uuid is required")
	}
	rec := storyRunRecord{
		RunUUID:      run.UUID,
		WindowStart:  run.WindowStart.UTC(),
		WindowEnd:    run.WindowEnd.UTC(),
		FeatureLevel: run.FeatureLevel,
		Documents:    run.Documents,
		Rejected:     run.Rejected,
		Noise:        run.Noise,
		Eps:          run.Eps,
		MinPts:       run.MinPts,
		Shrunk:       run.Shrunk,
		CreatedAt:    run.CreatedAt.UTC(),
		Clusters:     make([]storyClusterRecord, 0, len(run.Clusters)),
	}
	for _, sc := range run.Clusters {
		rec.Clusters = append(rec.Clusters, storyClusterRecord{
			Rank:                sc.Rank,
			Label:               sc.Label,
			RepresentativeTitle: sc.RepresentativeTitle,
			RepresentativeID:    sc.RepresentativeID,
			MemberIDs:           sc.MemberIDs,
			ArticleCount:        sc.ArticleCount,
			SourceCount:         sc.SourceCount,
			Velocity:            sc.Velocity,
			Recency:             sc.Recency,
			Engagement:          sc.Engagement,
			TrendingScore:       sc.TrendingScore,
			FirstSeen:           sc.FirstSeen.UTC(),
			LastSeen:            sc.LastSeen.UTC(),
		})
	}
	if _, err := s.storyRuns.InsertOne(ctx, rec); err != nil {
		return news.Persistence("save story run", err)
	}
	for _, sc := range run.Clusters {
		if len(sc.MemberIDs) == 0 {
			continue
		}
		if _, err := s.documents.UpdateMany(ctx,
			bson.M{"_id": bson.M{"$in": sc.MemberIDs}},
			bson.M{"$set": bson.M{"story_label": sc.Label}},
		); err != nil {
			return news.Persistence("save story run", fmt.Errorf("label members of %s: %w", sc.Label, err))
		}
	}
	return nil
}

func (s *Store) LatestStoryRun(ctx context.Context) (*news.StoryRun, error) {
	var rec storyRunRecord
	err := s.storyRuns.FindOne(ctx, bson.M{},
		options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}}),
	).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, news.ErrNotFound
	}
	if err != nil {
		return nil, news.Persistence("latest story run", err)
	}

	run := &news.StoryRun{
		UUID:         rec.RunUUID,
		WindowStart:  rec.WindowStart.UTC(),
		WindowEnd:    rec.WindowEnd.UTC(),
		FeatureLevel: rec.FeatureLevel,
		Documents:    rec.Documents,
		Rejected:     rec.Rejected,
		Noise:        rec.Noise,
		Eps:          rec.Eps,
		MinPts:       rec.MinPts,
		Shrunk:       rec.Shrunk,
		CreatedAt:    rec.CreatedAt.UTC(),
	}
	for _, c := range rec.Clusters {
		run.Clusters = append(run.Clusters, news.StoryCluster{
			Rank:                c.Rank,
			Label:               c.Label,
			RepresentativeTitle: c.RepresentativeTitle,
			RepresentativeID:    c.RepresentativeID,
			MemberIDs:           c.MemberIDs,
			ArticleCount:        c.ArticleCount,
			SourceCount:         c.SourceCount,
			Velocity:            c.Velocity,
			Recency:             c.Recency,
			Engagement:          c.Engagement,
			TrendingScore:       c.TrendingScore,
			FirstSeen:           c.FirstSeen.UTC(),
			LastSeen:            c.LastSeen.UTC(),
			WindowStart:         run.WindowStart,
			WindowEnd:           run.WindowEnd,
		})
	}
	return run, nil
}
