package download

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agleyzer/hls2mp4/internal/crypt"
	"github.com/agleyzer/hls2mp4/internal/fetch"
	"github.com/agleyzer/hls2mp4/internal/hlstest"
	"github.com/agleyzer/hls2mp4/internal/progress"
	"github.com/agleyzer/hls2mp4/internal/segment"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const workDir = "/work"

func createTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

func newTestDownloader(fetcher Fetcher, fs afero.Fs, concurrency, attempts int) *Downloader {
	return New(fetcher, fs, Options{
		Concurrency: concurrency,
		MaxAttempts: attempts,
		RetryDelay:  10 * time.Millisecond,
	}, createTestLogger())
}

func newOriginFetcher() *fetch.Fetcher {
	return fetch.New(fetch.Options{}, createTestLogger())
}

func baseOf(t *testing.T, origin *hlstest.Origin) *url.URL {
	t.Helper()
	u, err := url.Parse(origin.URL("/"))
	require.NoError(t, err)
	return u
}

func segments(n int) []segment.Segment {
	segs := make([]segment.Segment, n)
	for i := range segs {
		segs[i] = segment.Segment{Index: i, URI: fmt.Sprintf("seg%d.ts", i), Duration: 10}
	}
	return segs
}

func readFile(t *testing.T, fs afero.Fs, path string) []byte {
	t.Helper()
	data, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	return data
}

// trackingFetcher wraps a Fetcher and records peak concurrency and
// completion order.
type trackingFetcher struct {
	next Fetcher

	inFlight    atomic.Int32
	maxInFlight atomic.Int32

	mu        sync.Mutex
	completed []string
}

func (f *trackingFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	n := f.inFlight.Add(1)
	for {
		peak := f.maxInFlight.Load()
		if n <= peak || f.maxInFlight.CompareAndSwap(peak, n) {
			break
		}
	}
	defer f.inFlight.Add(-1)

	data, err := f.next.Fetch(ctx, rawURL)

	f.mu.Lock()
	f.completed = append(f.completed, rawURL)
	f.mu.Unlock()

	return data, err
}

func TestDownloadAll_WritesSegmentsByIndex(t *testing.T) {
	origin := hlstest.NewOrigin(t)
	for i := 0; i < 3; i++ {
		origin.Add(fmt.Sprintf("/seg%d.ts", i), hlstest.Payload(byte(i*50), 10*(i+1)))
	}

	fs := afero.NewMemMapFs()
	counter := progress.NewCounter("download", 3, nil)

	paths, err := newTestDownloader(newOriginFetcher(), fs, 2, 1).
		DownloadAll(context.Background(), segments(3), nil, baseOf(t, origin), workDir, counter)
	require.NoError(t, err)

	require.Equal(t, []string{
		filepath.Join(workDir, "seg_00000.ts"),
		filepath.Join(workDir, "seg_00001.ts"),
		filepath.Join(workDir, "seg_00002.ts"),
	}, paths)

	for i, p := range paths {
		assert.Equal(t, hlstest.Payload(byte(i*50), 10*(i+1)), readFile(t, fs, p))
	}
	assert.Equal(t, 3, counter.Done())
}

func TestDownloadAll_RetrySucceedsOnLastAttempt(t *testing.T) {
	origin := hlstest.NewOrigin(t)
	origin.Add("/seg0.ts", []byte("zero"))
	origin.AddResource("/seg1.ts", hlstest.Resource{
		Body:       []byte("one"),
		FailFirst:  2,
		FailStatus: 503,
	})

	fs := afero.NewMemMapFs()
	paths, err := newTestDownloader(newOriginFetcher(), fs, 2, 3).
		DownloadAll(context.Background(), segments(2), nil, baseOf(t, origin), workDir, nil)
	require.NoError(t, err)

	assert.Equal(t, 3, origin.Hits("/seg1.ts"))
	assert.Equal(t, 1, origin.Hits("/seg0.ts"))
	assert.Equal(t, []byte("one"), readFile(t, fs, paths[1]))
}

func TestDownloadAll_RetryExhausted(t *testing.T) {
	origin := hlstest.NewOrigin(t)
	origin.Add("/seg0.ts", []byte("zero"))
	origin.AddResource("/seg1.ts", hlstest.Resource{
		Body:      []byte("one"),
		FailFirst: 3,
	})
	origin.Add("/seg2.ts", []byte("two"))

	fs := afero.NewMemMapFs()
	_, err := newTestDownloader(newOriginFetcher(), fs, 1, 3).
		DownloadAll(context.Background(), segments(3), nil, baseOf(t, origin), workDir, nil)
	require.Error(t, err)

	var exhausted *SegmentExhaustedError
	require.True(t, errors.As(err, &exhausted), "got %v", err)
	assert.Equal(t, 1, exhausted.Index)
	assert.Equal(t, 3, exhausted.Attempts)

	var terr *fetch.TransportError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, 500, terr.StatusCode)

	assert.Equal(t, 3, origin.Hits("/seg1.ts"))

	// Siblings are not cancelled and their files are left behind
	assert.Equal(t, 1, origin.Hits("/seg2.ts"))
	exists, err := afero.Exists(fs, filepath.Join(workDir, "seg_00002.ts"))
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestDownloadAll_ConcurrencyBound(t *testing.T) {
	const n = 12

	origin := hlstest.NewOrigin(t)
	for i := 0; i < n; i++ {
		origin.AddResource(fmt.Sprintf("/seg%d.ts", i), hlstest.Resource{
			Body:  []byte{byte(i)},
			Delay: 20 * time.Millisecond,
		})
	}

	for _, k := range []int{1, 3} {
		t.Run(fmt.Sprintf("concurrency=%d", k), func(t *testing.T) {
			tracker := &trackingFetcher{next: newOriginFetcher()}

			_, err := newTestDownloader(tracker, afero.NewMemMapFs(), k, 1).
				DownloadAll(context.Background(), segments(n), nil, baseOf(t, origin), workDir, nil)
			require.NoError(t, err)

			assert.LessOrEqual(t, int(tracker.maxInFlight.Load()), k)
			assert.GreaterOrEqual(t, int(tracker.maxInFlight.Load()), 1)
		})
	}

	assert.LessOrEqual(t, origin.MaxInFlight(), 3)
}

func TestDownloadAll_OutOfOrderCompletion(t *testing.T) {
	const n = 4

	origin := hlstest.NewOrigin(t)
	for i := 0; i < n; i++ {
		// Earlier segments are slower, so they complete last
		origin.AddResource(fmt.Sprintf("/seg%d.ts", i), hlstest.Resource{
			Body:  hlstest.Payload(byte(i), 8),
			Delay: time.Duration(n-i) * 40 * time.Millisecond,
		})
	}

	tracker := &trackingFetcher{next: newOriginFetcher()}
	fs := afero.NewMemMapFs()

	paths, err := newTestDownloader(tracker, fs, n, 1).
		DownloadAll(context.Background(), segments(n), nil, baseOf(t, origin), workDir, nil)
	require.NoError(t, err)

	require.Len(t, tracker.completed, n)
	assert.Equal(t, origin.URL("/seg3.ts"), tracker.completed[0])

	for i, p := range paths {
		assert.Equal(t, segment.FileName(i), filepath.Base(p))
		assert.Equal(t, hlstest.Payload(byte(i), 8), readFile(t, fs, p))
	}
}

func TestDownloadAll_Decrypts(t *testing.T) {
	keyBytes := []byte("0123456789abcdef")
	iv := make([]byte, 16)
	key := &crypt.Key{Key: keyBytes, IV: iv}
	ref := &segment.EncryptionRef{Method: "AES-128", KeyURI: "key.bin", IVHex: "0x00000000000000000000000000000000"}

	origin := hlstest.NewOrigin(t)
	segs := segments(3)
	for i := range segs {
		segs[i].Encryption = ref
		origin.Add(fmt.Sprintf("/seg%d.ts", i), hlstest.Encrypt(keyBytes, iv, hlstest.Payload(byte(i), 100+i)))
	}

	fs := afero.NewMemMapFs()
	paths, err := newTestDownloader(newOriginFetcher(), fs, 3, 1).
		DownloadAll(context.Background(), segs, key, baseOf(t, origin), workDir, nil)
	require.NoError(t, err)

	for i, p := range paths {
		assert.Equal(t, hlstest.Payload(byte(i), 100+i), readFile(t, fs, p))
	}
}

func TestDownloadAll_DecryptionFailureIsNotRetried(t *testing.T) {
	key := &crypt.Key{Key: []byte("0123456789abcdef"), IV: make([]byte, 16)}

	origin := hlstest.NewOrigin(t)
	origin.Add("/seg0.ts", []byte("not a block multiple"))

	segs := segments(1)
	segs[0].Encryption = &segment.EncryptionRef{Method: "AES-128", KeyURI: "k", IVHex: "0x00"}

	_, err := newTestDownloader(newOriginFetcher(), afero.NewMemMapFs(), 1, 3).
		DownloadAll(context.Background(), segs, key, baseOf(t, origin), workDir, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, crypt.ErrDecryption), "got %v", err)
	assert.Equal(t, 1, origin.Hits("/seg0.ts"))
}

func TestDownloadAll_ClearSegmentsSkipDecryption(t *testing.T) {
	key := &crypt.Key{Key: []byte("0123456789abcdef"), IV: make([]byte, 16)}

	origin := hlstest.NewOrigin(t)
	origin.Add("/seg0.ts", []byte("clear"))

	segs := segments(1)
	segs[0].Encryption = &segment.EncryptionRef{Method: "NONE"}

	fs := afero.NewMemMapFs()
	paths, err := newTestDownloader(newOriginFetcher(), fs, 1, 1).
		DownloadAll(context.Background(), segs, key, baseOf(t, origin), workDir, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("clear"), readFile(t, fs, paths[0]))
}

func TestDownloadAll_DeterministicNaming(t *testing.T) {
	origin := hlstest.NewOrigin(t)
	for i := 0; i < 3; i++ {
		origin.Add(fmt.Sprintf("/seg%d.ts", i), []byte{byte(i)})
	}

	fs := afero.NewMemMapFs()
	d := newTestDownloader(newOriginFetcher(), fs, 3, 1)

	first, err := d.DownloadAll(context.Background(), segments(3), nil, baseOf(t, origin), workDir, nil)
	require.NoError(t, err)
	second, err := d.DownloadAll(context.Background(), segments(3), nil, baseOf(t, origin), workDir, nil)
	require.NoError(t, err)

	assert.Equal(t, first, second)

	entries, err := afero.ReadDir(fs, workDir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"seg_00000.ts", "seg_00001.ts", "seg_00002.ts"}, names)
}

func TestDownloadAll_PersistError(t *testing.T) {
	origin := hlstest.NewOrigin(t)
	origin.Add("/seg0.ts", []byte("zero"))

	fs := afero.NewReadOnlyFs(afero.NewMemMapFs())

	_, err := newTestDownloader(newOriginFetcher(), fs, 1, 1).
		DownloadAll(context.Background(), segments(1), nil, baseOf(t, origin), workDir, nil)
	require.Error(t, err)

	var perr *PersistError
	assert.True(t, errors.As(err, &perr), "got %v", err)
}

func TestDownloadAll_CancelledDuringBackoff(t *testing.T) {
	origin := hlstest.NewOrigin(t)
	origin.AddResource("/seg0.ts", hlstest.Resource{Body: []byte("x"), FailFirst: 10})

	d := New(newOriginFetcher(), afero.NewMemMapFs(), Options{
		Concurrency: 1,
		MaxAttempts: 5,
		RetryDelay:  time.Hour,
	}, createTestLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := d.DownloadAll(ctx, segments(1), nil, baseOf(t, origin), workDir, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestNew_ClampsOptions(t *testing.T) {
	d := New(newOriginFetcher(), afero.NewMemMapFs(), Options{Concurrency: -2}, createTestLogger())
	assert.Equal(t, 1, d.opts.Concurrency)
	assert.Equal(t, 1, d.opts.MaxAttempts)
	assert.Equal(t, DefaultRetryDelay, d.opts.RetryDelay)
}
