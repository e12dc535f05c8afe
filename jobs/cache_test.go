package jobs

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"transcript-bot/database"
)

func setupCacheDB(t *testing.T) {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	Init(logger)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Discard,
	})
	if err != nil {
		t.Fatal(err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatal(err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&CachedFragment{}); err != nil {
		t.Fatal(err)
	}
	database.Init(db, logger)
}

func TestFragmentCacheGetMissing(t *testing.T) {
	setupCacheDB(t)
	cache := NewFragmentCache()

	payload, ok, err := cache.Get("job-1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if ok || payload != nil {
		t.Error("missing key reported as present")
	}
}

func TestFragmentCacheRoundTrip(t *testing.T) {
	setupCacheDB(t)
	cache := NewFragmentCache()

	if err := cache.Put("job-1", 3, []byte(`{"text":"hello"}`)); err != nil {
		t.Fatal(err)
	}
	payload, ok, err := cache.Get("job-1", 3)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || !bytes.Equal(payload, []byte(`{"text":"hello"}`)) {
		t.Errorf("got %q, ok=%v", payload, ok)
	}

	// same job, other segment stays independent
	if _, ok, _ := cache.Get("job-1", 4); ok {
		t.Error("unexpected hit for a different segment")
	}
}

func TestFragmentCachePutReplacesExistingRow(t *testing.T) {
	setupCacheDB(t)
	cache := NewFragmentCache()

	if err := cache.Put("job-1", 0, []byte("stale and undecodable")); err != nil {
		t.Fatal(err)
	}
	// a re-transcribed segment overwrites despite the unique key
	if err := cache.Put("job-1", 0, []byte(`{"text":"fresh"}`)); err != nil {
		t.Fatalf("rewrite over existing row failed: %v", err)
	}

	payload, ok, err := cache.Get("job-1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || !bytes.Equal(payload, []byte(`{"text":"fresh"}`)) {
		t.Errorf("got %q after rewrite", payload)
	}
}

func TestDropRemovesOnlyTheJobsFragments(t *testing.T) {
	setupCacheDB(t)
	cache := NewFragmentCache()

	cache.Put("job-1", 0, []byte("a"))
	cache.Put("job-1", 1, []byte("b"))
	cache.Put("job-2", 0, []byte("c"))

	if err := Drop("job-1"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := cache.Get("job-1", 0); ok {
		t.Error("dropped fragment still present")
	}
	if _, ok, _ := cache.Get("job-2", 0); !ok {
		t.Error("drop removed another job's fragment")
	}

	// the key is free for reuse after the drop
	if err := cache.Put("job-1", 0, []byte("d")); err != nil {
		t.Errorf("reuse after drop failed: %v", err)
	}
}
