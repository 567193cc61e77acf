// Package qdrantgrpc is a VectorStore over the Qdrant gRPC API.
package qdrantgrpc

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/kirillkom/ragflow/internal/core/domain"
)

const (
	defaultPort = 6334
	contentKey  = "text"
)

type Config struct {
	// Address is host:port of the gRPC listener; the port defaults to 6334.
	Address    string
	Collection string
	APIKey     string
	UseTLS     bool
}

type Store struct {
	client     *qdrant.Client
	collection string

	ensureMu   sync.Mutex
	ensuredDim int
}

func New(cfg Config) (*Store, error) {
	host, port, err := parseAddress(cfg.Address)
	if err != nil {
		return nil, domain.WrapError(domain.ErrInvalidRequest, "qdrant grpc config", err)
	}
	if cfg.Collection == "" {
		return nil, domain.NewError(domain.ErrInvalidRequest, "qdrant grpc config", "collection is required")
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}
	return &Store{client: client, collection: cfg.Collection}, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) AddVectors(ctx context.Context, records []domain.VectorRecord) error {
	if len(records) == 0 {
		return nil
	}
	dim := len(records[0].Vector)
	points := make([]*qdrant.PointStruct, 0, len(records))
	for _, record := range records {
		if len(record.Vector) != dim {
			return domain.NewError(domain.ErrInvalidRequest, "qdrant upsert",
				fmt.Sprintf("record %s has dimension %d, want %d", record.ID, len(record.Vector), dim))
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(record.ID),
			Vectors: qdrant.NewVectors(record.Vector...),
			Payload: toPayload(record),
		})
	}

	if err := s.ensureCollection(ctx, dim); err != nil {
		return err
	}

	wait := true
	if _, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points:         points,
	}); err != nil {
		return fmt.Errorf("upsert points: %w", err)
	}
	return nil
}

func (s *Store) UpdateVector(ctx context.Context, record domain.VectorRecord) error {
	if record.ID == "" {
		return domain.NewError(domain.ErrInvalidRequest, "qdrant update", "record id is required")
	}
	return s.AddVectors(ctx, []domain.VectorRecord{record})
}

func (s *Store) DeleteVectors(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = qdrant.NewIDUUID(id)
	}

	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{Ids: pointIDs},
			},
		},
	})
	if err != nil && status.Code(err) != codes.NotFound {
		return fmt.Errorf("delete points: %w", err)
	}
	return nil
}

// Search returns no hits while the collection does not exist yet.
func (s *Store) Search(ctx context.Context, queryVector []float32, topK int) ([]domain.VectorHit, error) {
	response, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(queryVector...),
		Limit:          qdrant.PtrOf(uint64(topK)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return []domain.VectorHit{}, nil
		}
		return nil, fmt.Errorf("query points: %w", err)
	}

	out := make([]domain.VectorHit, 0, len(response))
	for _, point := range response {
		hit := domain.VectorHit{
			ID:       pointID(point.GetId()),
			Score:    float64(point.GetScore()),
			Metadata: make(map[string]any, len(point.GetPayload())),
		}
		for key, value := range point.GetPayload() {
			if key == contentKey {
				hit.Content = value.GetStringValue()
				continue
			}
			hit.Metadata[key] = fromValue(value)
		}
		out = append(out, hit)
	}
	return out, nil
}

func (s *Store) ensureCollection(ctx context.Context, dim int) error {
	s.ensureMu.Lock()
	defer s.ensureMu.Unlock()
	if s.ensuredDim == dim {
		return nil
	}

	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("check collection: %w", err)
	}
	if !exists {
		err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: s.collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(dim),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil && status.Code(err) != codes.AlreadyExists {
			return fmt.Errorf("create collection: %w", err)
		}
	}
	s.ensuredDim = dim
	return nil
}

func parseAddress(address string) (string, int, error) {
	if address == "" {
		return "", 0, fmt.Errorf("address is required")
	}
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return address, defaultPort, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 {
		return "", 0, fmt.Errorf("invalid port in qdrant address %q", address)
	}
	return host, port, nil
}

func toPayload(record domain.VectorRecord) map[string]*qdrant.Value {
	payload := make(map[string]*qdrant.Value, len(record.Metadata)+1)
	for key, value := range record.Metadata {
		payload[key] = toValue(value)
	}
	payload[contentKey] = qdrant.NewValueString(record.Content)
	return payload
}

func toValue(value any) *qdrant.Value {
	switch v := value.(type) {
	case string:
		return qdrant.NewValueString(v)
	case bool:
		return qdrant.NewValueBool(v)
	case int:
		return qdrant.NewValueInt(int64(v))
	case int64:
		return qdrant.NewValueInt(v)
	case float32:
		return qdrant.NewValueDouble(float64(v))
	case float64:
		return qdrant.NewValueDouble(v)
	default:
		return qdrant.NewValueString(fmt.Sprint(v))
	}
}

func fromValue(value *qdrant.Value) any {
	switch kind := value.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return kind.StringValue
	case *qdrant.Value_BoolValue:
		return kind.BoolValue
	case *qdrant.Value_IntegerValue:
		return kind.IntegerValue
	case *qdrant.Value_DoubleValue:
		return kind.DoubleValue
	case nil, *qdrant.Value_NullValue:
		return nil
	default:
		return value.String()
	}
}

func pointID(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	if uuid := id.GetUuid(); uuid != "" {
		return uuid
	}
	return strconv.FormatUint(id.GetNum(), 10)
}
