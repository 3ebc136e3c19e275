package index

import (
	"context"
	"crypto/tls"
	"fmt"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

// RemoteConfig holds connection settings for an external Qdrant deployment.
type RemoteConfig struct {
	Host       string
	Port       int
	Collection string
	APIKey     string // enables TLS automatically
	UseTLS     bool
	Dim        int
}

// RemoteIndex is a Qdrant-backed Searcher for deployments that keep the
// embedding corpus in an external vector database instead of the in-process
// index. Points are stored under numeric ids equal to ann_id, so results
// plug into the same identity mapping.
type RemoteIndex struct {
	conn       *grpc.ClientConn
	points     pb.PointsClient
	collection string
	dim        int
}

func remoteAPIKeyInterceptor(apiKey string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = metadata.AppendToOutgoingContext(ctx, "api-key", apiKey)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// NewRemoteIndex connects to Qdrant. Supports both local (insecure) and
// cloud (TLS + API key) deployments.
func NewRemoteIndex(cfg *RemoteConfig) (*RemoteIndex, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	var opts []grpc.DialOption
	useTLS := cfg.UseTLS || cfg.APIKey != ""
	if useTLS {
		creds := credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS13})
		opts = append(opts, grpc.WithTransportCredentials(creds))
		if cfg.APIKey != "" {
			opts = append(opts, grpc.WithUnaryInterceptor(remoteAPIKeyInterceptor(cfg.APIKey)))
		}
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to qdrant: %w", err)
	}

	return &RemoteIndex{
		conn:       conn,
		points:     pb.NewPointsClient(conn),
		collection: cfg.Collection,
		dim:        cfg.Dim,
	}, nil
}

// Close closes the gRPC connection.
func (r *RemoteIndex) Close() error {
	return r.conn.Close()
}

// Search implements Searcher. Qdrant manages its own candidate-list sizing,
// so depth maps onto the HNSW ef search parameter.
func (r *RemoteIndex) Search(ctx context.Context, query []float32, k, depth int) ([]Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	if depth < k {
		depth = k
	}
	ef := uint64(depth)
	resp, err := r.points.Search(ctx, &pb.SearchPoints{
		CollectionName: r.collection,
		Vector:         query,
		Limit:          uint64(k),
		Params: &pb.SearchParams{
			HnswEf: &ef,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant search: %w", err)
	}

	hits := make([]Hit, 0, len(resp.Result))
	for _, scored := range resp.Result {
		hits = append(hits, Hit{
			AnnID: scored.GetId().GetNum(),
			Score: float64(scored.GetScore()),
		})
	}
	return hits, nil
}

// Upsert writes vectors under their ann_id, used by the refresher when the
// remote backend is configured.
func (r *RemoteIndex) Upsert(ctx context.Context, rows []VectorRow) error {
	if len(rows) == 0 {
		return nil
	}
	points := make([]*pb.PointStruct, 0, len(rows))
	for _, row := range rows {
		points = append(points, &pb.PointStruct{
			Id: &pb.PointId{PointIdOptions: &pb.PointId_Num{Num: row.AnnID}},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: row.Vector}},
			},
		})
	}
	wait := true
	_, err := r.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: r.collection,
		Points:         points,
		Wait:           &wait,
	})
	if err != nil {
		return fmt.Errorf("qdrant upsert: %w", err)
	}
	return nil
}

// Delete removes points by ann_id.
func (r *RemoteIndex) Delete(ctx context.Context, annIDs []uint64) error {
	if len(annIDs) == 0 {
		return nil
	}
	ids := make([]*pb.PointId, 0, len(annIDs))
	for _, id := range annIDs {
		ids = append(ids, &pb.PointId{PointIdOptions: &pb.PointId_Num{Num: id}})
	}
	wait := true
	_, err := r.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: r.collection,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{Ids: ids},
			},
		},
		Wait: &wait,
	})
	if err != nil {
		return fmt.Errorf("qdrant delete: %w", err)
	}
	return nil
}
