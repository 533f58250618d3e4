package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const backendQdrant = "qdrant"

// QdrantConfig holds configuration for the Qdrant gRPC client.
type QdrantConfig struct {
	// Host is the Qdrant server hostname or IP address.
	// Default: "localhost"
	Host string

	// Port is the Qdrant gRPC port (NOT the HTTP REST port).
	// Default: 6334
	Port int

	// APIKey authenticates against Qdrant Cloud or secured deployments.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool

	// MaxMessageSize is the maximum gRPC message size in bytes.
	// Default: 50MB
	MaxMessageSize int

	// Timeout bounds the startup health check.
	// Default: 5s
	Timeout time.Duration

	// IndexedFields are payload fields that get a keyword index on
	// collection creation.
	// Default: user_id, source
	IndexedFields []string
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
	if c.Timeout == 0 {
		c.Timeout = 5 * time.Second
	}
	if c.IndexedFields == nil {
		c.IndexedFields = []string{"user_id", "source"}
	}
}

// Validate validates the configuration.
func (c QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port: %d", ErrInvalidConfig, c.Port)
	}
	return nil
}

// IsTransientError reports whether err is a gRPC failure caused by
// connectivity, timeouts or overload.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	st, ok := status.FromError(err)
	if !ok {
		return false
	}

	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// classifyError maps a Qdrant client error onto the store error taxonomy.
func classifyError(op string, err error) error {
	if IsTransientError(err) {
		return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
	}
	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case grpccodes.InvalidArgument, grpccodes.NotFound, grpccodes.FailedPrecondition, grpccodes.OutOfRange:
			return fmt.Errorf("%w: %s: %s", ErrInvalidRequest, op, st.Message())
		}
	}
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}

// QdrantStore is a Store backed by Qdrant's native gRPC client.
type QdrantStore struct {
	client *qdrant.Client
	config QdrantConfig
	logger *zap.Logger

	// dims caches collection name -> vector size.
	dims sync.Map
}

// NewQdrantStore connects to Qdrant and verifies the connection with a
// health check. A failed health check is reported as ErrStoreUnavailable.
func NewQdrantStore(config QdrantConfig, logger *zap.Logger) (*QdrantStore, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if !config.UseTLS {
		logger.Warn("qdrant gRPC connection is plaintext", zap.String("host", config.Host))
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		APIKey: config.APIKey,
		UseTLS: config.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
				grpc.MaxCallSendMsgSize(config.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: creating client: %w", ErrStoreUnavailable, err)
	}

	store := &QdrantStore{
		client: client,
		config: config,
		logger: logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.Timeout)
	defer cancel()
	if _, err := client.HealthCheck(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: health check: %w", ErrStoreUnavailable, err)
	}

	logger.Info("connected to qdrant", zap.String("host", config.Host), zap.Int("port", config.Port))
	return store, nil
}

// Close closes the gRPC connection.
func (s *QdrantStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// EnsureCollection creates the collection when absent. An existing
// collection with a different vector size is an ErrInvalidRequest.
func (s *QdrantStore) EnsureCollection(ctx context.Context, name string, dim int, metric Distance) (err error) {
	ctx, span, done := startOp(ctx, backendQdrant, "QdrantStore.EnsureCollection", "ensure_collection")
	defer func() { done(err) }()

	span.SetAttributes(
		attribute.String("collection", name),
		attribute.Int("vector_size", dim),
	)

	if err := ValidateCollectionName(name); err != nil {
		return err
	}
	if dim <= 0 {
		return fmt.Errorf("%w: vector size must be positive, got %d", ErrInvalidRequest, dim)
	}
	distance, err := qdrantDistance(metric)
	if err != nil {
		return err
	}
	if cached, ok := s.dims.Load(name); ok {
		if cached.(int) != dim {
			return fmt.Errorf("%w: collection %s has vector size %d, want %d", ErrInvalidRequest, name, cached, dim)
		}
		return nil
	}

	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return classifyError("collection exists", err)
	}
	if exists {
		existing, err := s.fetchDimension(ctx, name)
		if err != nil {
			return err
		}
		if existing != dim {
			return fmt.Errorf("%w: collection %s has vector size %d, want %d", ErrInvalidRequest, name, existing, dim)
		}
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dim),
			Distance: distance,
		}),
	})
	if err != nil {
		// Another process created it first.
		if st, ok := status.FromError(err); !ok || st.Code() != grpccodes.AlreadyExists {
			return classifyError("create collection", err)
		}
	}

	for _, field := range s.config.IndexedFields {
		_, err := s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: name,
			FieldName:      field,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		})
		if err != nil {
			s.logger.Warn("creating payload index failed",
				zap.String("collection", name),
				zap.String("field", field),
				zap.Error(err))
		}
	}

	s.dims.Store(name, dim)
	s.logger.Info("created collection", zap.String("collection", name), zap.Int("vector_size", dim))
	return nil
}

// Upsert writes records in one request and waits for the write to apply.
// Record ids must be UUIDs.
func (s *QdrantStore) Upsert(ctx context.Context, collection string, records []Record) (err error) {
	ctx, span, done := startOp(ctx, backendQdrant, "QdrantStore.Upsert", "upsert")
	defer func() { done(err) }()

	span.SetAttributes(
		attribute.String("collection", collection),
		attribute.Int("record_count", len(records)),
	)

	if len(records) == 0 {
		return nil
	}
	dim, err := s.dimension(ctx, collection)
	if err != nil {
		return err
	}

	points := make([]*qdrant.PointStruct, len(records))
	for i, rec := range records {
		if _, err := uuid.Parse(rec.ID); err != nil {
			return fmt.Errorf("%w: record id %q is not a UUID", ErrInvalidRequest, rec.ID)
		}
		if err := validateVector(rec.Vector, dim); err != nil {
			return err
		}
		payload, err := toQdrantPayload(rec.Payload)
		if err != nil {
			return err
		}
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(rec.ID),
			Vectors: qdrant.NewVectors(rec.Vector...),
			Payload: payload,
		}
	}

	_, err = s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		return classifyError("upsert", err)
	}
	return nil
}

// Search runs a filtered similarity query.
func (s *QdrantStore) Search(ctx context.Context, collection string, vector []float32, limit int, filter Filter) (_ []ScoredRecord, err error) {
	ctx, span, done := startOp(ctx, backendQdrant, "QdrantStore.Search", "search")
	defer func() { done(err) }()

	span.SetAttributes(
		attribute.String("collection", collection),
		attribute.Int("limit", limit),
	)

	if err := validateLimit(limit); err != nil {
		return nil, err
	}
	if err := ValidateFilter(filter); err != nil {
		return nil, err
	}
	dim, err := s.dimension(ctx, collection)
	if err != nil {
		return nil, err
	}
	if err := validateVector(vector, dim); err != nil {
		return nil, err
	}

	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(capLimit(limit))),
		Filter:         buildQdrantFilter(filter),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, classifyError("search", err)
	}

	results := make([]ScoredRecord, len(points))
	for i, p := range points {
		results[i] = ScoredRecord{
			Record: Record{
				ID:      pointIDString(p.GetId()),
				Payload: fromQdrantPayload(p.GetPayload()),
			},
			Score: p.GetScore(),
		}
	}
	span.SetAttributes(attribute.Int("results_count", len(results)))
	return results, nil
}

// Scroll lists records matching filter without ranking.
func (s *QdrantStore) Scroll(ctx context.Context, collection string, filter Filter, limit int) (_ []Record, err error) {
	ctx, span, done := startOp(ctx, backendQdrant, "QdrantStore.Scroll", "scroll")
	defer func() { done(err) }()

	span.SetAttributes(
		attribute.String("collection", collection),
		attribute.Int("limit", limit),
	)

	if err := validateLimit(limit); err != nil {
		return nil, err
	}
	if err := ValidateFilter(filter); err != nil {
		return nil, err
	}
	if _, err := s.dimension(ctx, collection); err != nil {
		return nil, err
	}

	points, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: collection,
		Filter:         buildQdrantFilter(filter),
		Limit:          qdrant.PtrOf(uint32(capLimit(limit))),
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	})
	if err != nil {
		return nil, classifyError("scroll", err)
	}

	records := make([]Record, len(points))
	for i, p := range points {
		records[i] = Record{
			ID:      pointIDString(p.GetId()),
			Vector:  p.GetVectors().GetVector().GetData(),
			Payload: fromQdrantPayload(p.GetPayload()),
		}
	}
	span.SetAttributes(attribute.Int("results_count", len(records)))
	return records, nil
}

// Delete removes every record matching filter. An empty filter is refused
// so a caller bug cannot wipe a collection.
func (s *QdrantStore) Delete(ctx context.Context, collection string, filter Filter) (err error) {
	ctx, span, done := startOp(ctx, backendQdrant, "QdrantStore.Delete", "delete")
	defer func() { done(err) }()

	span.SetAttributes(attribute.String("collection", collection))

	if len(filter) == 0 {
		return fmt.Errorf("%w: delete requires a filter", ErrInvalidRequest)
	}
	if err := ValidateFilter(filter); err != nil {
		return err
	}
	if _, err := s.dimension(ctx, collection); err != nil {
		return err
	}

	_, err = s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelectorFilter(buildQdrantFilter(filter)),
	})
	if err != nil {
		return classifyError("delete", err)
	}
	return nil
}

// dimension returns the vector size for collection, asking Qdrant once.
func (s *QdrantStore) dimension(ctx context.Context, collection string) (int, error) {
	if err := ValidateCollectionName(collection); err != nil {
		return 0, err
	}
	if cached, ok := s.dims.Load(collection); ok {
		return cached.(int), nil
	}
	return s.fetchDimension(ctx, collection)
}

func (s *QdrantStore) fetchDimension(ctx context.Context, collection string) (int, error) {
	info, err := s.client.GetCollectionInfo(ctx, collection)
	if err != nil {
		return 0, classifyError("collection info", err)
	}
	size := int(info.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize())
	if size == 0 {
		return 0, fmt.Errorf("%w: collection %s has no single dense vector config", ErrInvalidRequest, collection)
	}
	s.dims.Store(collection, size)
	return size, nil
}

func qdrantDistance(metric Distance) (qdrant.Distance, error) {
	switch metric {
	case DistanceCosine, "":
		return qdrant.Distance_Cosine, nil
	case DistanceDot:
		return qdrant.Distance_Dot, nil
	default:
		return 0, fmt.Errorf("%w: unsupported distance %q", ErrInvalidRequest, metric)
	}
}

// buildQdrantFilter converts an equality Filter into a must-filter.
// Keys are sorted so identical filters produce identical requests.
func buildQdrantFilter(filter Filter) *qdrant.Filter {
	if len(filter) == 0 {
		return nil
	}
	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	conditions := make([]*qdrant.Condition, 0, len(keys))
	for _, key := range keys {
		switch v := filter[key].(type) {
		case string:
			conditions = append(conditions, qdrant.NewMatch(key, v))
		case bool:
			conditions = append(conditions, qdrant.NewMatchBool(key, v))
		case int:
			conditions = append(conditions, qdrant.NewMatchInt(key, int64(v)))
		case int32:
			conditions = append(conditions, qdrant.NewMatchInt(key, int64(v)))
		case int64:
			conditions = append(conditions, qdrant.NewMatchInt(key, v))
		}
	}
	return &qdrant.Filter{Must: conditions}
}

func toQdrantPayload(payload map[string]any) (map[string]*qdrant.Value, error) {
	out := make(map[string]*qdrant.Value, len(payload))
	for k, v := range payload {
		switch val := v.(type) {
		case string:
			out[k] = qdrant.NewValueString(val)
		case int:
			out[k] = qdrant.NewValueInt(int64(val))
		case int32:
			out[k] = qdrant.NewValueInt(int64(val))
		case int64:
			out[k] = qdrant.NewValueInt(val)
		case float32:
			out[k] = qdrant.NewValueDouble(float64(val))
		case float64:
			out[k] = qdrant.NewValueDouble(val)
		case bool:
			out[k] = qdrant.NewValueBool(val)
		default:
			return nil, fmt.Errorf("%w: unsupported payload value type %T for key %q", ErrInvalidRequest, v, k)
		}
	}
	return out, nil
}

func fromQdrantPayload(payload map[string]*qdrant.Value) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		switch val := v.GetKind().(type) {
		case *qdrant.Value_StringValue:
			out[k] = val.StringValue
		case *qdrant.Value_IntegerValue:
			out[k] = val.IntegerValue
		case *qdrant.Value_DoubleValue:
			out[k] = val.DoubleValue
		case *qdrant.Value_BoolValue:
			out[k] = val.BoolValue
		}
	}
	return out
}

func pointIDString(id *qdrant.PointId) string {
	if u := id.GetUuid(); u != "" {
		return u
	}
	return strconv.FormatUint(id.GetNum(), 10)
}

var _ Store = (*QdrantStore)(nil)
