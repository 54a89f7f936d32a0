package cache

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/roster/roster/internal/model"
	"github.com/roster/roster/internal/signals"
)

func TestHashIP_Deterministic(t *testing.T) {
	t.Parallel()

	ip := "192.168.1.100"

	hash1 := hashIP(ip)
	hash2 := hashIP(ip)

	if hash1 != hash2 {
		t.Error("Same IP should produce same hash")
	}
}

func TestHashIP_Length(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		ip   string
	}{
		{"IPv4", "192.168.1.1"},
		{"IPv4 localhost", "127.0.0.1"},
		{"IPv6 localhost", "::1"},
		{"IPv6 full", "2001:0db8:85a3:0000:0000:8a2e:0370:7334"},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			hash := hashIP(tt.ip)
			// hashIP uses first 8 bytes of SHA256, encoded as 16 hex chars
			if len(hash) != 16 {
				t.Errorf("hashIP(%q) length = %d, want 16", tt.ip, len(hash))
			}
		})
	}
}

func TestHashIP_Different(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		ip1  string
		ip2  string
	}{
		{"different IPv4", "192.168.1.1", "192.168.1.2"},
		{"different last octet", "10.0.0.1", "10.0.0.2"},
		{"IPv4 vs IPv6", "127.0.0.1", "::1"},
		{"public vs private", "8.8.8.8", "192.168.1.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			hash1 := hashIP(tt.ip1)
			hash2 := hashIP(tt.ip2)

			if hash1 == hash2 {
				t.Errorf("Different IPs should produce different hashes: %q and %q both produced %s", tt.ip1, tt.ip2, hash1)
			}
		})
	}
}

func TestDetailKey(t *testing.T) {
	t.Parallel()

	if got := DetailKey(model.ResourceStudent, 42); got != "detail:student:42" {
		t.Errorf("DetailKey = %q", got)
	}
}

func TestBucketResult(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_000, 0)

	tests := []struct {
		name          string
		reply         []int64
		wantAllowed   bool
		wantRetry     time.Duration
		wantRemaining int64
		wantReset     time.Duration
	}{
		{
			name:          "allowed with tokens left",
			reply:         []int64{1, 0, 8},
			wantAllowed:   true,
			wantRemaining: 8,
			wantReset:     2 * time.Second,
		},
		{
			name:          "denied",
			reply:         []int64{0, 750, 0},
			wantAllowed:   false,
			wantRetry:     750 * time.Millisecond,
			wantRemaining: 0,
			wantReset:     10 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := bucketResult(tt.reply, 10, 1, now)
			if got.Allowed != tt.wantAllowed {
				t.Errorf("Allowed = %v, want %v", got.Allowed, tt.wantAllowed)
			}
			if got.RetryAfter != tt.wantRetry {
				t.Errorf("RetryAfter = %v, want %v", got.RetryAfter, tt.wantRetry)
			}
			if got.Remaining != tt.wantRemaining {
				t.Errorf("Remaining = %d, want %d", got.Remaining, tt.wantRemaining)
			}
			if got.ResetAt.Sub(now) != tt.wantReset {
				t.Errorf("ResetAt offset = %v, want %v", got.ResetAt.Sub(now), tt.wantReset)
			}
		})
	}
}

type fakeInvalidator struct {
	deleted map[string][]int64
}

func (f *fakeInvalidator) DeleteDetail(_ context.Context, resource string, ids ...int64) error {
	if f.deleted == nil {
		f.deleted = map[string][]int64{}
	}
	f.deleted[resource] = append(f.deleted[resource], ids...)
	return nil
}

func TestInvalidationReceiver(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		ev   signals.Event
		want map[string][]int64
	}{
		{
			name: "student",
			ev:   signals.Event{Signal: signals.PostSave, Sender: model.ResourceStudent, ID: 3, Instance: &model.Student{ID: 3}},
			want: map[string][]int64{"student": {3}},
		},
		{
			name: "comment drops its blog",
			ev:   signals.Event{Signal: signals.PostSave, Sender: model.ResourceComment, ID: 5, Instance: &model.Comment{ID: 5, BlogID: 2}},
			want: map[string][]int64{"comment": {5}, "blog": {2}},
		},
		{
			name: "moved comment drops both blogs",
			ev: signals.Event{
				Signal: signals.PostSave, Sender: model.ResourceComment, ID: 5,
				Instance: &model.Comment{ID: 5, BlogID: 2},
				Previous: &model.Comment{ID: 5, BlogID: 1},
			},
			want: map[string][]int64{"comment": {5}, "blog": {2, 1}},
		},
		{
			name: "deleted blog drops its comments",
			ev: signals.Event{
				Signal: signals.PostDelete, Sender: model.ResourceBlog, ID: 9,
				Instance: &model.Blog{ID: 9, Comments: []model.Comment{{ID: 11}, {ID: 12}}},
			},
			want: map[string][]int64{"blog": {9}, "comment": {11, 12}},
		},
		{
			name: "saved blog keeps comments",
			ev: signals.Event{
				Signal: signals.PostSave, Sender: model.ResourceBlog, ID: 9,
				Instance: &model.Blog{ID: 9, Comments: []model.Comment{{ID: 11}}},
			},
			want: map[string][]int64{"blog": {9}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			inv := &fakeInvalidator{}
			if err := InvalidationReceiver(inv)(context.Background(), tt.ev); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(inv.deleted, tt.want) {
				t.Errorf("deleted = %v, want %v", inv.deleted, tt.want)
			}
		})
	}
}
