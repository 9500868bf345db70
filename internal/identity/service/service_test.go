package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"credline/internal/identity/metrics"
	"credline/internal/identity/models"
	"credline/internal/identity/store"
	id "credline/pkg/domain"
	dErrors "credline/pkg/domain-errors"
	audit "credline/pkg/platform/audit"
	"credline/pkg/platform/audit/publisher"
	"credline/pkg/platform/audit/store/memory"
	"credline/pkg/platform/tx"
	"credline/pkg/requestcontext"
)

const (
	operator id.Address = "0x00000000000000000000000000000000000000f1"
	alice    id.Address = "0x00000000000000000000000000000000000000a1"
	bob      id.Address = "0x00000000000000000000000000000000000000b1"
)

type ServiceSuite struct {
	suite.Suite
	service *Service
	store   *store.InMemory
	events  *memory.InMemoryStore
	metrics *metrics.Metrics
	now     time.Time
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.now = time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	s.store = store.NewInMemory()
	s.events = memory.NewInMemoryStore()
	s.metrics = metrics.New(prometheus.NewRegistry())
	runner := tx.NewSerial(tx.WithClock(func() time.Time { return s.now }))
	svc, err := New(s.store, runner, operator,
		WithEventEmitter(publisher.NewPublisher(s.events)),
		WithMetrics(s.metrics),
	)
	s.Require().NoError(err)
	s.service = svc
}

func (s *ServiceSuite) as(caller id.Address) context.Context {
	return requestcontext.WithCaller(context.Background(), caller)
}

func (s *ServiceSuite) eventTypes(subject id.Address) []audit.EventType {
	events, err := s.events.ListBySubject(context.Background(), subject)
	s.Require().NoError(err)
	types := make([]audit.EventType, 0, len(events))
	for _, e := range events {
		types = append(types, e.Type)
	}
	return types
}

func (s *ServiceSuite) TestCreateIdentity() {
	s.Run("creates an unverified identity", func() {
		identity, err := s.service.CreateIdentity(s.as(alice), alice, "QmDoc1")
		s.Require().NoError(err)
		s.False(identity.IsVerified)
		s.Equal(0, identity.VerificationLevel)
		s.Equal(s.now, identity.CreatedAt)
		s.False(identity.UniqueID.IsNil())
		s.Equal([]audit.EventType{audit.EventIdentityCreated, audit.EventDocumentAdded}, s.eventTypes(alice))
		s.Equal(1.0, testutil.ToFloat64(s.metrics.IdentitiesCreated))
	})

	s.Run("second identity for the same subject fails", func() {
		_, err := s.service.CreateIdentity(s.as(alice), alice, "QmDoc2")
		s.True(dErrors.HasCode(err, dErrors.CodeAlreadyExists))
	})

	s.Run("blank first document fails", func() {
		_, err := s.service.CreateIdentity(s.as(bob), bob, " ")
		s.True(dErrors.HasCode(err, dErrors.CodeEmptyDocument))
		s.Empty(s.eventTypes(bob), "failed operations emit nothing")
	})

	s.Run("unique ids never collide", func() {
		other, err := s.service.CreateIdentity(s.as(bob), bob, "QmDoc1")
		s.Require().NoError(err)
		first, err := s.service.GetUniqueID(context.Background(), alice)
		s.Require().NoError(err)
		s.NotEqual(first, other.UniqueID)
	})

	total, err := s.service.TotalUsers(context.Background())
	s.Require().NoError(err)
	s.Equal(2, total)
}

func (s *ServiceSuite) TestAddDocument() {
	_, err := s.service.CreateIdentity(s.as(alice), alice, "QmDoc1")
	s.Require().NoError(err)

	s.Run("appends in insertion order", func() {
		_, err := s.service.AddDocument(s.as(alice), alice, "QmDoc2")
		s.Require().NoError(err)
		identity, err := s.service.AddDocument(s.as(alice), alice, "QmDoc2")
		s.Require().NoError(err)
		s.Equal([]id.ContentHash{"QmDoc1", "QmDoc2", "QmDoc2"}, identity.Documents)

		doc, err := s.service.GetDocument(context.Background(), alice, 1)
		s.Require().NoError(err)
		s.Equal(id.ContentHash("QmDoc2"), doc)
	})

	s.Run("index past the end fails", func() {
		_, err := s.service.GetDocument(context.Background(), alice, 3)
		s.True(dErrors.HasCode(err, dErrors.CodeIndexOutOfRange))
	})

	s.Run("unknown subject fails", func() {
		_, err := s.service.AddDocument(s.as(bob), bob, "QmDoc1")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("blank document fails", func() {
		_, err := s.service.AddDocument(s.as(alice), alice, "")
		s.True(dErrors.HasCode(err, dErrors.CodeEmptyDocument))
	})
}

func (s *ServiceSuite) TestVerifyIdentity() {
	_, err := s.service.CreateIdentity(s.as(alice), alice, "QmDoc1")
	s.Require().NoError(err)

	s.Run("non-operator is rejected before anything else", func() {
		_, err := s.service.VerifyIdentity(s.as(alice), "0xnobody", 9)
		s.True(dErrors.HasCode(err, dErrors.CodeNotAuthorized))
	})

	s.Run("level outside 1..3 fails", func() {
		for _, level := range []int{0, 4} {
			_, err := s.service.VerifyIdentity(s.as(operator), alice, level)
			s.True(dErrors.HasCode(err, dErrors.CodeInvalidLevel), "level %d", level)
		}
	})

	s.Run("unknown subject fails", func() {
		_, err := s.service.VerifyIdentity(s.as(operator), bob, 2)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("verifies and reports the level change", func() {
		identity, err := s.service.VerifyIdentity(s.as(operator), alice, 2)
		s.Require().NoError(err)
		s.True(identity.IsVerified)
		s.Equal(2, identity.VerificationLevel)

		types := s.eventTypes(alice)
		s.Equal(audit.EventVerificationLevelUpdated, types[len(types)-1])
		s.Equal(audit.EventIdentityVerified, types[len(types)-2])
	})

	s.Run("same level again emits no level change", func() {
		before := len(s.eventTypes(alice))
		_, err := s.service.VerifyIdentity(s.as(operator), alice, 2)
		s.Require().NoError(err)
		types := s.eventTypes(alice)
		s.Len(types, before+1)
		s.Equal(audit.EventIdentityVerified, types[len(types)-1])
	})

	s.Run("level can move down", func() {
		_, err := s.service.VerifyIdentity(s.as(operator), alice, 1)
		s.Require().NoError(err)
		level, err := s.service.GetVerificationLevel(context.Background(), alice)
		s.Require().NoError(err)
		s.Equal(1, level)
	})
}

func (s *ServiceSuite) TestQueriesForUnknownSubjects() {
	level, err := s.service.GetVerificationLevel(context.Background(), bob)
	s.Require().NoError(err)
	s.Equal(models.LevelUnverified, level)

	verified, err := s.service.IsVerified(context.Background(), bob)
	s.Require().NoError(err)
	s.False(verified)

	_, err = s.service.GetUniqueID(context.Background(), bob)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

	_, err = s.service.GetIdentity(context.Background(), bob)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

type failingEmitter struct{}

func (failingEmitter) Emit(context.Context, audit.Event) error {
	return errors.New("event log unavailable")
}

func (s *ServiceSuite) TestEventFailureFailsTheOperation() {
	identities := store.NewInMemory()
	svc, err := New(identities, tx.NewSerial(), operator, WithEventEmitter(failingEmitter{}))
	s.Require().NoError(err)

	_, err = svc.CreateIdentity(s.as(alice), alice, "QmDoc1")
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))

	count, err := identities.Count(context.Background())
	s.Require().NoError(err)
	s.Zero(count, "the identity write is rolled back with the event")
}

func TestNewRequiresDependencies(t *testing.T) {
	if _, err := New(nil, tx.NewSerial(), operator); err == nil {
		t.Fatal("expected error for nil store")
	}
	if _, err := New(store.NewInMemory(), nil, operator); err == nil {
		t.Fatal("expected error for nil runner")
	}
}
