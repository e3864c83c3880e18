package archive_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/terminal-bench/mariscope/internal/domain"
	"github.com/terminal-bench/mariscope/internal/models"
	"github.com/terminal-bench/mariscope/internal/services/archive"
)

func samplePool() models.Pool {
	return models.Pool{
		ID:        uuid.MustParse("7f1c2b8e-2d6a-4c1e-9a55-0b6f1e3d9c21"),
		Year:      2024,
		CreatedAt: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
		Members: []models.PoolMember{
			{ShipID: "R002", BalanceBefore: 263082240, BalanceAfter: 0},
			{ShipID: "R001", BalanceBefore: -100, BalanceAfter: 0},
		},
	}
}

func TestNewService(t *testing.T) {
	t.Run("should require an endpoint", func(t *testing.T) {
		svc, err := archive.NewService(archive.Config{Bucket: "pools"}, nil)
		assert.Error(t, err)
		assert.Nil(t, svc)
	})

	t.Run("should require a bucket", func(t *testing.T) {
		_, err := archive.NewService(archive.Config{Endpoint: "localhost:9000"}, nil)
		assert.Error(t, err)
	})

	t.Run("should create a client lazily", func(t *testing.T) {
		svc, err := archive.NewService(archive.Config{
			Endpoint:  "localhost:9000",
			AccessKey: "minioadmin",
			SecretKey: "minioadmin",
			Bucket:    "pools",
		}, nil)
		require.NoError(t, err)
		assert.NotNil(t, svc)
	})
}

func TestObjectKey(t *testing.T) {
	pool := samplePool()
	assert.Equal(t, "pools/2024/7f1c2b8e-2d6a-4c1e-9a55-0b6f1e3d9c21.json", archive.ObjectKey(pool.Year, pool.ID))
}

func TestEncodeDecode(t *testing.T) {
	t.Run("should round trip with a verified checksum", func(t *testing.T) {
		data, checksum, err := archive.Encode(samplePool())
		require.NoError(t, err)
		assert.Len(t, checksum, 64)

		pool, err := archive.Decode(data, checksum)
		require.NoError(t, err)
		assert.Equal(t, samplePool().Members, pool.Members)
		assert.True(t, samplePool().CreatedAt.Equal(pool.CreatedAt))
	})

	t.Run("should produce a stable checksum", func(t *testing.T) {
		_, first, err := archive.Encode(samplePool())
		require.NoError(t, err)
		_, second, err := archive.Encode(samplePool())
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})

	t.Run("should reject tampered data", func(t *testing.T) {
		data, checksum, err := archive.Encode(samplePool())
		require.NoError(t, err)

		data[len(data)-2] = ' '
		_, err = archive.Decode(data, checksum)
		assert.Error(t, err)
	})
}

type storedObject struct {
	data     []byte
	checksum string
}

// objectServer answers path-style S3 GET and HEAD object requests.
type objectServer struct {
	mu      sync.Mutex
	bucket  string
	objects map[string]storedObject
}

func (o *objectServer) put(key string, data []byte, checksum string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.objects[key] = storedObject{data: data, checksum: checksum}
}

func (o *objectServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusNotImplemented)
		return
	}

	key, ok := strings.CutPrefix(r.URL.Path, "/"+o.bucket+"/")
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	o.mu.Lock()
	obj, found := o.objects[key]
	o.mu.Unlock()

	if !found {
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusNotFound)
		if r.Method == http.MethodGet {
			_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>` +
				`<Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message>` +
				`<Key>` + key + `</Key><BucketName>` + o.bucket + `</BucketName></Error>`))
		}
		return
	}

	h := w.Header()
	h.Set("Content-Type", "application/json")
	h.Set("Content-Length", strconv.Itoa(len(obj.data)))
	h.Set("Last-Modified", time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC).Format(http.TimeFormat))
	h.Set("ETag", `"`+obj.checksum[:32]+`"`)
	h.Set("X-Amz-Meta-Checksum-Sha256", obj.checksum)
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodGet {
		_, _ = w.Write(obj.data)
	}
}

func newObjectService(t *testing.T) (*archive.Service, *objectServer) {
	t.Helper()
	objects := &objectServer{bucket: "pools", objects: make(map[string]storedObject)}
	server := httptest.NewServer(objects)
	t.Cleanup(server.Close)

	svc, err := archive.NewService(archive.Config{
		Endpoint:  strings.TrimPrefix(server.URL, "http://"),
		AccessKey: "minioadmin",
		SecretKey: "minioadmin",
		Bucket:    "pools",
		Region:    "us-east-1",
	}, nil)
	require.NoError(t, err)
	return svc, objects
}

func TestLoadPool(t *testing.T) {
	ctx := context.Background()
	pool := samplePool()
	key := archive.ObjectKey(pool.Year, pool.ID)

	t.Run("should load and verify an archived pool", func(t *testing.T) {
		svc, objects := newObjectService(t)
		data, checksum, err := archive.Encode(pool)
		require.NoError(t, err)
		objects.put(key, data, checksum)

		loaded, err := svc.LoadPool(ctx, pool.Year, pool.ID)
		require.NoError(t, err)
		assert.Equal(t, pool.ID, loaded.ID)
		assert.Equal(t, pool.Members, loaded.Members)
		assert.True(t, pool.CreatedAt.Equal(loaded.CreatedAt))
	})

	t.Run("should reject an object that fails its checksum", func(t *testing.T) {
		svc, objects := newObjectService(t)
		data, checksum, err := archive.Encode(pool)
		require.NoError(t, err)
		tampered := []byte(strings.Replace(string(data), `"cbAfter":0`, `"cbAfter":1`, 1))
		require.NotEqual(t, data, tampered)
		objects.put(key, tampered, checksum)

		_, err = svc.LoadPool(ctx, pool.Year, pool.ID)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "checksum mismatch")
	})

	t.Run("should report a missing object as not found", func(t *testing.T) {
		svc, _ := newObjectService(t)

		_, err := svc.LoadPool(ctx, pool.Year, uuid.New())
		assert.True(t, domain.IsNotFound(err))
	})
}
