package store_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/riverqueue/river/rivertype"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/statichq/sitesmith/internal/store"

	"path/filepath"
)

var _ = Describe("queue store", Ordered, func() {
	var (
		s      store.Store
		gormdb *gorm.DB
	)

	BeforeAll(func() {
		dbPath := filepath.Join(GinkgoT().TempDir(), "queue_test.db")
		db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{TranslateError: true})
		Expect(err).To(BeNil())

		Expect(db.AutoMigrate(&store.QueueJobRow{})).To(Succeed())
		s = store.NewStore(db)
		gormdb = db
	})

	AfterAll(func() {
		Expect(s.Close()).To(Succeed())
	})

	AfterEach(func() {
		gormdb.Exec("DELETE FROM river_job")
	})

	Context("PendingCount", func() {
		It("counts only entries a worker has not claimed", func() {
			rows := []store.QueueJobRow{
				{ID: 1, State: rivertype.JobStateAvailable, Kind: "site_generate"},
				{ID: 2, State: rivertype.JobStateScheduled, Kind: "site_generate"},
				{ID: 3, State: rivertype.JobStateRetryable, Kind: "site_deploy"},
				{ID: 4, State: rivertype.JobStateRunning, Kind: "site_generate"},
				{ID: 5, State: rivertype.JobStateCompleted, Kind: "site_generate"},
				{ID: 6, State: rivertype.JobStateDiscarded, Kind: "site_deploy"},
			}
			Expect(gormdb.Create(&rows).Error).To(BeNil())

			count, err := s.Queue().PendingCount(context.TODO())
			Expect(err).To(BeNil())
			Expect(count).To(Equal(int64(3)))
		})

		It("returns zero on an empty queue", func() {
			count, err := s.Queue().PendingCount(context.TODO())
			Expect(err).To(BeNil())
			Expect(count).To(Equal(int64(0)))
		})
	})
})
