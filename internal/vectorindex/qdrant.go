package vectorindex

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/agenthands/wikigraph/internal/config"
	"github.com/agenthands/wikigraph/internal/core/model"
	"github.com/agenthands/wikigraph/internal/logger"
)

const maxResponseBytes = 64 << 20

// Qdrant is an Index backed by a Qdrant collection whose point ids are
// article ids.
type Qdrant struct {
	log            *logger.Logger
	cfg            config.IndexConfig
	baseURL        string
	http           *http.Client
	canReconstruct bool
}

type envelope struct {
	Result json.RawMessage `json:"result"`
	Status json.RawMessage `json:"status"`
}

type scoredPoint struct {
	ID     json.RawMessage `json:"id"`
	Score  float64         `json:"score"`
	Vector json.RawMessage `json:"vector,omitempty"`
}

// NewQdrant verifies the collection exists and decides once whether stored
// vectors can be read back.
func NewQdrant(ctx context.Context, cfg config.IndexConfig, log *logger.Logger) (*Qdrant, error) {
	return newQdrant(ctx, cfg, log, &http.Client{Timeout: 30 * time.Second})
}

func newQdrant(ctx context.Context, cfg config.IndexConfig, log *logger.Logger, client *http.Client) (*Qdrant, error) {
	if strings.TrimSpace(cfg.URL) == "" || strings.TrimSpace(cfg.Collection) == "" {
		return nil, opErr("init", OperationErrorValidation, "url and collection are required", nil)
	}
	q := &Qdrant{
		log:     log.With("component", "qdrant", "collection", cfg.Collection),
		cfg:     cfg,
		baseURL: strings.TrimRight(cfg.URL, "/"),
		http:    client,
	}
	if err := q.verifyCollection(ctx); err != nil {
		return nil, err
	}

	switch cfg.Reconstruct {
	case "on":
		q.canReconstruct = true
	case "off":
		q.canReconstruct = false
	default:
		q.canReconstruct = q.probeReconstruct(ctx)
	}

	q.log.Info("vector index ready", "url", q.baseURL, "vector_dim", cfg.VectorDim, "can_reconstruct", q.canReconstruct)
	return q, nil
}

func (q *Qdrant) CanReconstruct() bool { return q.canReconstruct }

func (q *Qdrant) Search(ctx context.Context, vec []float32, k int) ([]model.Candidate, error) {
	const op = "search"
	if len(vec) == 0 {
		return nil, opErr(op, OperationErrorValidation, "query vector required", nil)
	}
	if q.cfg.VectorDim > 0 && len(vec) != q.cfg.VectorDim {
		return nil, opErr(op, OperationErrorValidation,
			fmt.Sprintf("query dimension mismatch: expected=%d got=%d", q.cfg.VectorDim, len(vec)), nil)
	}
	if k <= 0 {
		return []model.Candidate{}, nil
	}

	var query any = vec
	if q.cfg.VectorName != "" {
		query = map[string]any{"name": q.cfg.VectorName, "vector": vec}
	}
	req := map[string]any{
		"vector":       query,
		"limit":        k,
		"with_payload": false,
		"with_vector":  false,
	}

	var points []scoredPoint
	if err := q.doJSON(ctx, op, http.MethodPost, q.collectionPath("/points/search"), req, &points); err != nil {
		return nil, err
	}

	out := make([]model.Candidate, 0, len(points))
	for _, p := range points {
		id, ok := parsePointID(p.ID)
		if !ok {
			continue
		}
		out = append(out, model.Candidate{ID: id, Similarity: p.Score})
	}
	return out, nil
}

func (q *Qdrant) Reconstruct(ctx context.Context, id int64) ([]float32, error) {
	const op = "reconstruct"
	if !q.canReconstruct {
		return nil, ErrReconstructUnsupported
	}

	req := map[string]any{
		"ids":          []int64{id},
		"with_payload": false,
		"with_vector":  q.withVector(),
	}
	var points []scoredPoint
	if err := q.doJSON(ctx, op, http.MethodPost, q.collectionPath("/points"), req, &points); err != nil {
		return nil, err
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("article %d: %w", id, ErrNotFound)
	}
	vec, err := decodeVector(points[0].Vector, q.cfg.VectorName)
	if err != nil {
		return nil, opErr(op, OperationErrorDecodeFailed, fmt.Sprintf("article %d", id), err)
	}
	return vec, nil
}

func (q *Qdrant) withVector() any {
	if q.cfg.VectorName != "" {
		return []string{q.cfg.VectorName}
	}
	return true
}

func (q *Qdrant) verifyCollection(ctx context.Context) error {
	const op = "verify"
	var info struct {
		Config struct {
			Params struct {
				Vectors json.RawMessage `json:"vectors"`
			} `json:"params"`
		} `json:"config"`
	}
	if err := q.doJSON(ctx, op, http.MethodGet, q.collectionPath(""), nil, &info); err != nil {
		return err
	}
	if q.cfg.VectorDim == 0 {
		return nil
	}

	size := vectorSize(info.Config.Params.Vectors, q.cfg.VectorName)
	if size != 0 && size != q.cfg.VectorDim {
		return opErr(op, OperationErrorValidation,
			fmt.Sprintf("collection %q vector size mismatch: expected=%d actual=%d", q.cfg.Collection, q.cfg.VectorDim, size), nil)
	}
	return nil
}

// probeReconstruct reads one stored point and reports whether it came back
// with a usable vector.
func (q *Qdrant) probeReconstruct(ctx context.Context) bool {
	req := map[string]any{"limit": 1, "with_payload": false, "with_vector": q.withVector()}
	var page struct {
		Points []scoredPoint `json:"points"`
	}
	if err := q.doJSON(ctx, "probe", http.MethodPost, q.collectionPath("/points/scroll"), req, &page); err != nil {
		q.log.Warn("reconstruct probe failed", "error", err)
		return false
	}
	if len(page.Points) == 0 {
		q.log.Warn("reconstruct probe found an empty collection")
		return false
	}
	vec, err := decodeVector(page.Points[0].Vector, q.cfg.VectorName)
	return err == nil && len(vec) > 0
}

func (q *Qdrant) collectionPath(suffix string) string {
	return "/collections/" + q.cfg.Collection + suffix
}

func (q *Qdrant) doJSON(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(in); err != nil {
			return opErr(op, OperationErrorEncodeFailed, "encode request", err)
		}
		body = &buf
	}

	req, err := http.NewRequestWithContext(ctx, method, q.baseURL+path, body)
	if err != nil {
		return opErr(op, OperationErrorTransportFailed, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := q.http.Do(req)
	if err != nil {
		return opErr(op, OperationErrorTransportFailed, "request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return opErr(op, OperationErrorDecodeFailed, "read response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &OperationError{
			Code:       OperationErrorQueryFailed,
			Operation:  op,
			StatusCode: resp.StatusCode,
			Message:    truncate(raw, 512),
		}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return opErr(op, OperationErrorDecodeFailed, "decode envelope", err)
	}
	if msg := statusError(env.Status); msg != "" {
		return &OperationError{Code: OperationErrorQueryFailed, Operation: op, StatusCode: resp.StatusCode, Message: msg}
	}
	if out == nil || len(env.Result) == 0 || string(env.Result) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return opErr(op, OperationErrorDecodeFailed, "decode result", err)
	}
	return nil
}

// parsePointID accepts unsigned integer point ids; UUID ids are not
// articles and are skipped.
func parsePointID(raw json.RawMessage) (int64, bool) {
	s := strings.TrimSpace(string(raw))
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id < 0 {
		return 0, false
	}
	return id, true
}

func decodeVector(raw json.RawMessage, name string) ([]float32, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, errors.New("point carries no vector")
	}
	var plain []float32
	if err := json.Unmarshal(raw, &plain); err == nil {
		return plain, nil
	}
	var named map[string][]float32
	if err := json.Unmarshal(raw, &named); err != nil {
		return nil, fmt.Errorf("unrecognized vector shape: %w", err)
	}
	if name == "" && len(named) == 1 {
		for _, v := range named {
			return v, nil
		}
	}
	v, ok := named[name]
	if !ok {
		return nil, fmt.Errorf("named vector %q missing", name)
	}
	return v, nil
}

func vectorSize(raw json.RawMessage, name string) int {
	var single struct {
		Size int `json:"size"`
	}
	if err := json.Unmarshal(raw, &single); err == nil && single.Size > 0 {
		return single.Size
	}
	var named map[string]struct {
		Size int `json:"size"`
	}
	if err := json.Unmarshal(raw, &named); err == nil {
		return named[name].Size
	}
	return 0
}

func statusError(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return ""
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		if strings.EqualFold(str, "ok") {
			return ""
		}
		return "status=" + str
	}
	var obj struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Error != "" {
		return obj.Error
	}
	return ""
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
