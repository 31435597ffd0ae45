package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parksiwoo-1/Coordination-scrip-for-tinyIoT-and-simulator/internal/infrastructure/config"
	"github.com/parksiwoo-1/Coordination-scrip-for-tinyIoT-and-simulator/internal/infrastructure/monitoring"
	"github.com/parksiwoo-1/Coordination-scrip-for-tinyIoT-and-simulator/internal/onem2m"
)

// fakeCSE is a minimal in-memory resource tree.
type fakeCSE struct {
	mu        sync.Mutex
	resources map[string]bool
	latest    map[string]string
	posts     []*http.Request
	bodies    []map[string]json.RawMessage

	// postStatus overrides the create answer when non-zero.
	postStatus int
	postBody   string
	// postDelay stalls content creates after storing the value.
	postDelay time.Duration
}

func newFakeCSE() *fakeCSE {
	return &fakeCSE{
		resources: map[string]bool{"/TinyIoT": true},
		latest:    make(map[string]string),
	}
}

func (f *fakeCSE) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch r.Method {
	case http.MethodGet:
		if cnt, ok := strings.CutSuffix(r.URL.Path, "/la"); ok {
			v, found := f.latest[cnt]
			if !found {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"m2m:cin": map[string]any{"con": v}})
			return
		}
		if f.resources[r.URL.Path] {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)

	case http.MethodPost:
		data, _ := io.ReadAll(r.Body)
		var body map[string]json.RawMessage
		_ = json.Unmarshal(data, &body)
		f.posts = append(f.posts, r)
		f.bodies = append(f.bodies, body)

		if f.postStatus != 0 {
			w.WriteHeader(f.postStatus)
			_, _ = io.WriteString(w, f.postBody)
			return
		}

		for key, raw := range body {
			var attrs struct {
				RN  string `json:"rn"`
				Con string `json:"con"`
			}
			_ = json.Unmarshal(raw, &attrs)
			if key == "m2m:cin" {
				f.latest[r.URL.Path] = attrs.Con
				if f.postDelay > 0 {
					f.mu.Unlock()
					time.Sleep(f.postDelay)
					f.mu.Lock()
				}
			} else {
				f.resources[r.URL.Path+"/"+attrs.RN] = true
			}
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write(data)
	}
}

func (f *fakeCSE) postCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.posts)
}

func newTestTransport(t *testing.T, cse *fakeCSE, opts Options) (*Transport, *monitoring.Metrics) {
	t.Helper()
	srv := httptest.NewServer(cse)
	t.Cleanup(srv.Close)

	opts.BaseURL = srv.URL
	if opts.CSE == "" {
		opts.CSE = "TinyIoT"
	}
	if opts.Origin == "" {
		opts.Origin = "CtempSensor"
	}
	metrics := monitoring.NewMetrics()
	tr := New(opts, nil, metrics)
	t.Cleanup(func() { _ = tr.Close() })
	return tr, metrics
}

func TestEnsureApplicationEntityIsIdempotent(t *testing.T) {
	cse := newFakeCSE()
	tr, metrics := newTestTransport(t, cse, Options{})
	ctx := context.Background()

	require.NoError(t, tr.EnsureApplicationEntity(ctx, "CtempSensor"))
	require.NoError(t, tr.EnsureApplicationEntity(ctx, "CtempSensor"))

	require.Equal(t, 1, cse.postCount())
	post := cse.posts[0]
	assert.Equal(t, "/TinyIoT", post.URL.Path)
	assert.Equal(t, "application/json;ty=2", post.Header.Get("Content-Type"))
	assert.Equal(t, "CtempSensor", post.Header.Get("X-M2M-Origin"))
	assert.Equal(t, "3", post.Header.Get("X-M2M-RVI"))
	assert.True(t, strings.HasPrefix(post.Header.Get("X-M2M-RI"), "ri"))

	var ae onem2m.ApplicationEntity
	require.NoError(t, json.Unmarshal(cse.bodies[0]["m2m:ae"], &ae))
	assert.Equal(t, onem2m.ApplicationEntity{ResourceName: "CtempSensor", AppID: "N.CtempSensor", RequestReachable: true}, ae)

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.RequestsTotal.WithLabelValues("http", "ae", "ok")))
}

func TestEnsureContainerSendsLimits(t *testing.T) {
	cse := newFakeCSE()
	cse.resources["/TinyIoT/CtempSensor"] = true
	tr, _ := newTestTransport(t, cse, Options{MaxInstances: 1000, MaxByteSize: 4096})

	require.NoError(t, tr.EnsureContainer(context.Background(), "CtempSensor", "temperature"))

	require.Equal(t, 1, cse.postCount())
	assert.Equal(t, "/TinyIoT/CtempSensor", cse.posts[0].URL.Path)
	assert.Equal(t, "application/json;ty=3", cse.posts[0].Header.Get("Content-Type"))

	var cnt onem2m.Container
	require.NoError(t, json.Unmarshal(cse.bodies[0]["m2m:cnt"], &cnt))
	assert.Equal(t, onem2m.Container{ResourceName: "temperature", MaxInstances: 1000, MaxByteSize: 4096}, cnt)

	// Existing container short-circuits.
	require.NoError(t, tr.EnsureContainer(context.Background(), "CtempSensor", "temperature"))
	assert.Equal(t, 1, cse.postCount())
}

func TestCreateAnswers(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"conflict with duplicate body", http.StatusConflict, `{"m2m:dbg":"resource is duplicated"}`, nil},
		{"forbidden with duplicate body", http.StatusForbidden, `{"m2m:dbg":"DUPLICATED rn"}`, nil},
		{"conflict without duplicate body", http.StatusConflict, `{"m2m:dbg":"other"}`, onem2m.ErrRejected},
		{"bad request", http.StatusBadRequest, `{"m2m:dbg":"bad"}`, onem2m.ErrRejected},
		{"plain ok", http.StatusOK, ``, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cse := newFakeCSE()
			cse.postStatus = tt.status
			cse.postBody = tt.body
			tr, _ := newTestTransport(t, cse, Options{})

			err := tr.EnsureApplicationEntity(context.Background(), "ChumidSensor")
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.wantErr)

			var rej *onem2m.RejectedError
			require.True(t, errors.As(err, &rej))
			assert.Equal(t, tt.status, rej.Code)
			assert.Contains(t, rej.Body, "m2m:dbg")
		})
	}
}

func TestSendDataPoint(t *testing.T) {
	cse := newFakeCSE()
	tr, metrics := newTestTransport(t, cse, Options{})

	require.NoError(t, tr.SendDataPoint(context.Background(), "CtempSensor", "temperature", "23.5"))

	require.Equal(t, 1, cse.postCount())
	assert.Equal(t, "/TinyIoT/CtempSensor/temperature", cse.posts[0].URL.Path)
	assert.Equal(t, "application/json;ty=4", cse.posts[0].Header.Get("Content-Type"))
	assert.JSONEq(t, `{"con":"23.5"}`, string(cse.bodies[0]["m2m:cin"]))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RequestsTotal.WithLabelValues("http", "cin", "ok")))
}

func TestSendDataPointRejected(t *testing.T) {
	cse := newFakeCSE()
	cse.postStatus = http.StatusNotFound
	cse.postBody = `{"m2m:dbg":"resource does not exist"}`
	tr, metrics := newTestTransport(t, cse, Options{})

	err := tr.SendDataPoint(context.Background(), "CtempSensor", "temperature", "1")
	assert.ErrorIs(t, err, onem2m.ErrRejected)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RequestsTotal.WithLabelValues("http", "cin", "rejected")))
}

func TestSendDataPointDuplicateIsRejected(t *testing.T) {
	for _, status := range []int{http.StatusConflict, http.StatusForbidden} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			cse := newFakeCSE()
			cse.postStatus = status
			cse.postBody = `{"m2m:dbg":"resource is duplicated"}`
			tr, metrics := newTestTransport(t, cse, Options{})

			err := tr.SendDataPoint(context.Background(), "CtempSensor", "temperature", "1")
			require.ErrorIs(t, err, onem2m.ErrRejected)

			var rej *onem2m.RejectedError
			require.True(t, errors.As(err, &rej))
			assert.Equal(t, status, rej.Code)
			assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RequestsTotal.WithLabelValues("http", "cin", "rejected")))
		})
	}
}

func TestSendDataPointVerifiesOnTimeout(t *testing.T) {
	cse := newFakeCSE()
	cse.postDelay = 300 * time.Millisecond
	tr, _ := newTestTransport(t, cse, Options{RequestTimeout: 50 * time.Millisecond, VerifyOnTimeout: true})

	assert.NoError(t, tr.SendDataPoint(context.Background(), "CtempSensor", "temperature", "24.1"))
}

func TestSendDataPointTimeoutWithoutVerify(t *testing.T) {
	cse := newFakeCSE()
	cse.postDelay = 300 * time.Millisecond
	tr, _ := newTestTransport(t, cse, Options{RequestTimeout: 50 * time.Millisecond})

	err := tr.SendDataPoint(context.Background(), "CtempSensor", "temperature", "24.1")
	assert.ErrorIs(t, err, onem2m.ErrTimeout)
}

func TestUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	tr := New(Options{BaseURL: "http://" + addr, CSE: "TinyIoT", ConnectTimeout: 200 * time.Millisecond}, nil, nil)

	assert.ErrorIs(t, tr.Probe(context.Background()), onem2m.ErrUnreachable)
	assert.ErrorIs(t, tr.EnsureApplicationEntity(context.Background(), "CtempSensor"), onem2m.ErrUnreachable)
	assert.ErrorIs(t, tr.SendDataPoint(context.Background(), "CtempSensor", "temperature", "1"), onem2m.ErrUnreachable)
}

func TestProbeReachable(t *testing.T) {
	tr, _ := newTestTransport(t, newFakeCSE(), Options{})
	assert.NoError(t, tr.Probe(context.Background()))
}

func TestCancelledContext(t *testing.T) {
	tr, _ := newTestTransport(t, newFakeCSE(), Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := tr.SendDataPoint(ctx, "CtempSensor", "temperature", "1")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.Default()
	opts := OptionsFromConfig(cfg, "Cco2Sensor")

	assert.Equal(t, "http://127.0.0.1:3000", opts.BaseURL)
	assert.Equal(t, "TinyIoT", opts.CSE)
	assert.Equal(t, "Cco2Sensor", opts.Origin)
	assert.Equal(t, "CAdmin", opts.AdminOrigin)
	assert.Equal(t, "3", opts.ReleaseVersion)
	assert.True(t, opts.VerifyOnTimeout)
}
