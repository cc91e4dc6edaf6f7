package verification

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

type memStore struct {
	mu      sync.Mutex
	codes   map[string]string
	expires map[string]time.Time
	now     func() time.Time
}

func newMemStore() *memStore {
	return &memStore{
		codes:   make(map[string]string),
		expires: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (m *memStore) Set(_ context.Context, key, code string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.codes[key] = code
	m.expires[key] = m.now().Add(ttl)
	return nil
}

func (m *memStore) Consume(_ context.Context, key, code string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.codes[key]
	if !ok || m.now().After(m.expires[key]) || stored != code {
		return false, nil
	}
	delete(m.codes, key)
	delete(m.expires, key)
	return true, nil
}

func TestIssueAndVerify(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, zap.NewNop())
	ctx := context.Background()

	code, err := svc.Issue(ctx, "order-1", KindOrderCompletion)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if len(code) != 6 {
		t.Fatalf("code %q is not 6 digits", code)
	}

	if err := svc.Verify(ctx, "order-1", KindOrderCompletion, code); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestVerifyIsOneShot(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, zap.NewNop())
	ctx := context.Background()

	code, err := svc.Issue(ctx, "order-1", KindOrderCompletion)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if err := svc.Verify(ctx, "order-1", KindOrderCompletion, code); err != nil {
		t.Fatalf("first Verify: %v", err)
	}

	err = svc.Verify(ctx, "order-1", KindOrderCompletion, code)
	if !errors.Is(err, ErrInvalidOrExpiredCode) {
		t.Fatalf("second Verify with same code = %v, want ErrInvalidOrExpiredCode", err)
	}
}

func TestVerifyConcurrentAttemptsConsumeOnce(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, zap.NewNop())
	ctx := context.Background()

	code, err := svc.Issue(ctx, "order-1", KindOrderCompletion)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	const attempts = 8
	start := make(chan struct{})
	results := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			results <- svc.Verify(ctx, "order-1", KindOrderCompletion, code)
		}()
	}
	close(start)
	wg.Wait()
	close(results)

	var succeeded, rejected int
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrInvalidOrExpiredCode):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("code consumed %d times, want exactly once", succeeded)
	}
	if rejected != attempts-1 {
		t.Fatalf("rejected = %d, want %d", rejected, attempts-1)
	}
}

func TestVerifyRejectsWrongCode(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, zap.NewNop())
	ctx := context.Background()

	code, err := svc.Issue(ctx, "order-1", KindOrderCompletion)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}
	if err := svc.Verify(ctx, "order-1", KindOrderCompletion, wrong); !errors.Is(err, ErrInvalidOrExpiredCode) {
		t.Fatalf("Verify(wrong) = %v, want ErrInvalidOrExpiredCode", err)
	}

	// The real code must still be usable after a failed guess.
	if err := svc.Verify(ctx, "order-1", KindOrderCompletion, code); err != nil {
		t.Fatalf("Verify after wrong guess: %v", err)
	}
}

func TestVerifyRejectsExpiredCode(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, zap.NewNop())
	ctx := context.Background()

	code, err := svc.Issue(ctx, "order-1", KindOrderCompletion)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	store.now = func() time.Time { return time.Now().Add(11 * time.Minute) }

	if err := svc.Verify(ctx, "order-1", KindOrderCompletion, code); !errors.Is(err, ErrInvalidOrExpiredCode) {
		t.Fatalf("Verify(expired) = %v, want ErrInvalidOrExpiredCode", err)
	}
}

func TestReissueInvalidatesPreviousCode(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, zap.NewNop())
	ctx := context.Background()

	first, err := svc.Issue(ctx, "order-1", KindOrderCompletion)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	second, err := svc.Issue(ctx, "order-1", KindOrderCompletion)
	if err != nil {
		t.Fatalf("reissue: %v", err)
	}

	if first != second {
		if err := svc.Verify(ctx, "order-1", KindOrderCompletion, first); !errors.Is(err, ErrInvalidOrExpiredCode) {
			t.Fatalf("Verify(stale code) = %v, want ErrInvalidOrExpiredCode", err)
		}
	}
	if err := svc.Verify(ctx, "order-1", KindOrderCompletion, second); err != nil {
		t.Fatalf("Verify(current code): %v", err)
	}
}
