package store_test

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/statichq/sitesmith/internal/store"
	"github.com/statichq/sitesmith/internal/store/model"
)

var _ = Describe("job store", Ordered, func() {
	var (
		s      store.Store
		gormdb *gorm.DB
	)

	BeforeAll(func() {
		dbPath := filepath.Join(GinkgoT().TempDir(), "store_test.db")
		db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{TranslateError: true})
		Expect(err).To(BeNil())

		s = store.NewStore(db)
		gormdb = db
		Expect(s.InitialMigration()).To(Succeed())
	})

	AfterAll(func() {
		Expect(s.Close()).To(Succeed())
	})

	AfterEach(func() {
		gormdb.Exec("DELETE FROM jobs")
		gormdb.Exec("DELETE FROM job_events")
		gormdb.Exec("DELETE FROM job_attachments")
	})

	Context("Create and Get", func() {
		It("creates a job in queued state and reads it back", func() {
			id := uuid.New()
			created, err := s.Job().Create(context.TODO(), &model.Job{
				ID:           id,
				SessionID:    "sess-1",
				Title:        "landing page",
				Brief:        "build a landing page",
				Status:       "queued",
				DeliveryMode: "package",
			})
			Expect(err).To(BeNil())
			Expect(created.ID).To(Equal(id))

			fetched, err := s.Job().Get(context.TODO(), id)
			Expect(err).To(BeNil())
			Expect(fetched.Status).To(Equal("queued"))
			Expect(fetched.SessionID).To(Equal("sess-1"))
		})

		It("returns ErrRecordNotFound for an unknown id", func() {
			_, err := s.Job().Get(context.TODO(), uuid.New())
			Expect(err).To(MatchError(store.ErrRecordNotFound))
		})
	})

	Context("UpdateStatus", func() {
		It("writes only the selected fields and refreshes updated_at", func() {
			id := uuid.New()
			_, err := s.Job().Create(context.TODO(), &model.Job{
				ID:           id,
				SessionID:    "sess-1",
				Title:        "page",
				Brief:        "brief",
				Status:       "queued",
				DeliveryMode: "package",
			})
			Expect(err).To(BeNil())

			before, err := s.Job().Get(context.TODO(), id)
			Expect(err).To(BeNil())

			started := time.Now().UTC()
			_, err = s.Job().UpdateStatus(context.TODO(), id, "in_progress", &store.JobUpdate{
				StartedAt: &started,
			})
			Expect(err).To(BeNil())

			after, err := s.Job().Get(context.TODO(), id)
			Expect(err).To(BeNil())
			Expect(after.Status).To(Equal("in_progress"))
			Expect(after.StartedAt).NotTo(BeNil())
			Expect(after.Brief).To(Equal("brief"))
			Expect(after.UpdatedAt).To(BeTemporally(">=", before.UpdatedAt))
		})

		It("returns ErrRecordNotFound when the job does not exist", func() {
			_, err := s.Job().UpdateStatus(context.TODO(), uuid.New(), "failed", nil)
			Expect(err).To(MatchError(store.ErrRecordNotFound))
		})

		It("records artifact fields on completion", func() {
			id := uuid.New()
			_, err := s.Job().Create(context.TODO(), &model.Job{
				ID:           id,
				SessionID:    "sess-1",
				Title:        "page",
				Brief:        "brief",
				Status:       "in_progress",
				DeliveryMode: "package",
			})
			Expect(err).To(BeNil())

			path := "/artifacts/page.zip"
			name := "page.zip"
			_, err = s.Job().UpdateStatus(context.TODO(), id, "completed", &store.JobUpdate{
				ArtifactPath: &path,
				ArtifactName: &name,
			})
			Expect(err).To(BeNil())

			job, err := s.Job().Get(context.TODO(), id)
			Expect(err).To(BeNil())
			Expect(job.Status).To(Equal("completed"))
			Expect(*job.ArtifactPath).To(Equal(path))
			Expect(*job.ArtifactName).To(Equal(name))
		})
	})

	Context("List", func() {
		It("filters by session and limits ordered by newest first", func() {
			for i := 0; i < 5; i++ {
				_, err := s.Job().Create(context.TODO(), &model.Job{
					ID:           uuid.New(),
					SessionID:    "sess-a",
					Title:        fmt.Sprintf("job-%d", i),
					Brief:        "brief",
					Status:       "queued",
					DeliveryMode: "package",
				})
				Expect(err).To(BeNil())
			}
			_, err := s.Job().Create(context.TODO(), &model.Job{
				ID:           uuid.New(),
				SessionID:    "sess-b",
				Title:        "other",
				Brief:        "brief",
				Status:       "queued",
				DeliveryMode: "package",
			})
			Expect(err).To(BeNil())

			jobs, err := s.Job().List(context.TODO(),
				store.NewJobQueryFilter().BySessionID("sess-a"),
				store.NewJobQueryOptions().WithSortOrder(store.SortByNewestFirst).WithLimit(3),
			)
			Expect(err).To(BeNil())
			Expect(jobs).To(HaveLen(3))
			for _, j := range jobs {
				Expect(j.SessionID).To(Equal("sess-a"))
			}
		})
	})

	Context("CountActive", func() {
		It("counts only queued, in_progress and deploying jobs", func() {
			statuses := []string{"queued", "in_progress", "deploying", "completed", "failed", "deploy_failed"}
			for _, status := range statuses {
				_, err := s.Job().Create(context.TODO(), &model.Job{
					ID:           uuid.New(),
					SessionID:    "sess-a",
					Title:        "j",
					Brief:        "b",
					Status:       status,
					DeliveryMode: "package",
				})
				Expect(err).To(BeNil())
			}

			count, err := s.Job().CountActive(context.TODO(), "sess-a")
			Expect(err).To(BeNil())
			Expect(count).To(Equal(int64(3)))
		})
	})

	Context("events", func() {
		It("appends events with strictly increasing ids and reads after a cursor", func() {
			jobID := uuid.New()
			var lastID int64
			for i := 0; i < 4; i++ {
				ev, err := s.Event().Append(context.TODO(), jobID, model.EventLevelInfo, fmt.Sprintf("step %d", i))
				Expect(err).To(BeNil())
				Expect(ev.ID).To(BeNumerically(">", lastID))
				lastID = ev.ID
			}

			all, err := s.Event().List(context.TODO(), jobID, 0, 0)
			Expect(err).To(BeNil())
			Expect(all).To(HaveLen(4))

			rest, err := s.Event().List(context.TODO(), jobID, all[1].ID, 0)
			Expect(err).To(BeNil())
			Expect(rest).To(HaveLen(2))
			Expect(rest[0].Message).To(Equal("step 2"))
		})

		It("scopes events to their job", func() {
			jobA := uuid.New()
			jobB := uuid.New()
			_, err := s.Event().Append(context.TODO(), jobA, model.EventLevelInfo, "a")
			Expect(err).To(BeNil())
			_, err = s.Event().Append(context.TODO(), jobB, model.EventLevelInfo, "b")
			Expect(err).To(BeNil())

			events, err := s.Event().List(context.TODO(), jobA, 0, 0)
			Expect(err).To(BeNil())
			Expect(events).To(HaveLen(1))
			Expect(events[0].Message).To(Equal("a"))
		})
	})

	Context("attachments", func() {
		It("stores and lists attachment metadata per job", func() {
			jobID := uuid.New()
			_, err := s.Attachment().Create(context.TODO(), &model.JobAttachment{
				JobID:     jobID,
				Name:      "logo.png",
				MediaType: "image/png",
				Size:      42,
				SHA256:    "abc",
			})
			Expect(err).To(BeNil())

			attachments, err := s.Attachment().List(context.TODO(), jobID)
			Expect(err).To(BeNil())
			Expect(attachments).To(HaveLen(1))
			Expect(attachments[0].Name).To(Equal("logo.png"))
		})
	})
})
