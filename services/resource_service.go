package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"

	"marketplace-service/models"
	"marketplace-service/policy"
	"marketplace-service/query"
	"marketplace-service/repository"
)

// alwaysServerManaged are never accepted from a request body.
var alwaysServerManaged = []string{"id", "created_at", "updated_at", "deleted_at"}

// ResourceConfig describes one CRUD resource kind.
type ResourceConfig[T any] struct {
	Kind       string // policy kind, e.g. policy.Products
	Singular   string // used in messages
	Filterable map[string]query.FieldType
	// ServerManaged fields are dropped from create and update bodies.
	ServerManaged []string
	// Immutable fields are accepted on create but dropped from update bodies.
	Immutable []string

	// Prepare runs on create and update before validation.
	Prepare func(doc *T)
	// BeforeCreate sets ownership and checks cross document rules.
	BeforeCreate func(ctx context.Context, actor policy.Actor, doc *T) *ServiceError
	AfterCreate  func(ctx context.Context, doc *T) error
	AfterUpdate  func(ctx context.Context, before, after *T) error
	// AfterDelete cascades the delete to documents referencing doc.
	AfterDelete func(ctx context.Context, doc *T) error
}

// ListResult is one page of a resource collection. Items holds []T, or a projected
// []map[string]any when fields were requested.
type ListResult struct {
	Items any
	Meta  query.Meta
}

// ResourceService implements list, get, create, update and delete for a document type.
type ResourceService[T any, PT interface {
	*T
	models.Resource
}] struct {
	cfg    ResourceConfig[T]
	repo   repository.ResourceRepository[T]
	logger *zap.Logger
	now    func() time.Time
}

func NewResourceService[T any, PT interface {
	*T
	models.Resource
}](cfg ResourceConfig[T], repo repository.ResourceRepository[T], logger *zap.Logger) *ResourceService[T, PT] {
	return &ResourceService[T, PT]{cfg: cfg, repo: repo, logger: logger, now: time.Now}
}

func (s *ResourceService[T, PT]) Kind() string { return s.cfg.Kind }

func (s *ResourceService[T, PT]) List(ctx context.Context, values url.Values) (*ListResult, *ServiceError) {
	q, err := query.Parse(values, s.cfg.Filterable)
	if err != nil {
		var fe query.FieldErrors
		if errors.As(err, &fe) {
			return nil, validationError("Invalid query parameters", fe)
		}
		return nil, validationError(err.Error(), nil)
	}

	docs, total, err := s.repo.List(ctx, q)
	if err != nil {
		s.logger.Error("Failed to list "+s.cfg.Kind, zap.Error(err))
		return nil, internalError("Failed to fetch " + s.cfg.Kind)
	}

	items, err := query.Project(docs, q.Fields)
	if err != nil {
		return nil, internalError("Failed to project " + s.cfg.Kind)
	}
	return &ListResult{Items: items, Meta: query.NewMeta(q, total)}, nil
}

func (s *ResourceService[T, PT]) Get(ctx context.Context, id string) (*T, *ServiceError) {
	doc, err := s.repo.FindByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, notFoundError(s.cfg.Singular)
	}
	if err != nil {
		s.logger.Error("Failed to fetch "+s.cfg.Singular, zap.String("id", id), zap.Error(err))
		return nil, internalError("Failed to fetch " + s.cfg.Singular)
	}
	return doc, nil
}

func (s *ResourceService[T, PT]) Create(ctx context.Context, actor policy.Actor, body []byte) (*T, *ServiceError) {
	if d := policy.CanPerform(actor, policy.Create, policy.Target{Kind: s.cfg.Kind}); !d.Allowed {
		return nil, forbiddenError(d.Reason)
	}

	patch, svcErr := decodeObject(body)
	if svcErr != nil {
		return nil, svcErr
	}
	dropKeys(patch, alwaysServerManaged, s.cfg.ServerManaged)

	var doc T
	if err := remarshal(patch, &doc); err != nil {
		return nil, validationError("Invalid request body: "+err.Error(), nil)
	}
	pt := PT(&doc)
	pt.SetID(uuid.NewString())
	pt.Stamp(s.now().UTC(), true)

	if s.cfg.Prepare != nil {
		s.cfg.Prepare(&doc)
	}
	if s.cfg.BeforeCreate != nil {
		if svcErr := s.cfg.BeforeCreate(ctx, actor, &doc); svcErr != nil {
			return nil, svcErr
		}
	}
	if svcErr := validateStruct(&doc); svcErr != nil {
		return nil, svcErr
	}

	if err := s.repo.Create(ctx, &doc); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, conflictError(s.cfg.Singular + " already exists")
		}
		s.logger.Error("Failed to create "+s.cfg.Singular, zap.Error(err))
		return nil, internalError("Failed to create " + s.cfg.Singular)
	}

	if s.cfg.AfterCreate != nil {
		if err := s.cfg.AfterCreate(ctx, &doc); err != nil {
			s.logger.Error("Post-create update failed", zap.String("kind", s.cfg.Kind), zap.String("id", pt.GetID()), zap.Error(err))
		}
	}

	s.logger.Info(s.cfg.Singular+" created", zap.String("id", pt.GetID()), zap.String("by", actor.UserID))
	return &doc, nil
}

// Update merges the JSON body onto the stored document, validates the result and
// writes only the fields present in the body.
func (s *ResourceService[T, PT]) Update(ctx context.Context, actor policy.Actor, id string, body []byte) (*T, *ServiceError) {
	existing, svcErr := s.Get(ctx, id)
	if svcErr != nil {
		return nil, svcErr
	}
	if d := policy.CanPerform(actor, policy.Update, policy.Target{Kind: s.cfg.Kind, OwnerID: PT(existing).OwnerID()}); !d.Allowed {
		return nil, forbiddenError(d.Reason)
	}

	patch, svcErr := decodeObject(body)
	if svcErr != nil {
		return nil, svcErr
	}
	dropKeys(patch, alwaysServerManaged, s.cfg.ServerManaged, s.cfg.Immutable)

	current := map[string]any{}
	if err := remarshal(existing, &current); err != nil {
		return nil, internalError("Failed to update " + s.cfg.Singular)
	}
	for k := range patch {
		if _, known := current[k]; !known {
			delete(patch, k)
		}
	}
	if len(patch) == 0 {
		return nil, validationError("No updatable fields provided", nil)
	}
	for k, v := range patch {
		current[k] = v
	}

	var updated T
	if err := remarshal(current, &updated); err != nil {
		return nil, validationError("Invalid request body: "+err.Error(), nil)
	}
	PT(&updated).SetID(id)
	PT(&updated).Stamp(s.now().UTC(), false)
	if s.cfg.Prepare != nil {
		s.cfg.Prepare(&updated)
	}
	if svcErr := validateStruct(&updated); svcErr != nil {
		return nil, svcErr
	}

	fields, err := bsonFields(&updated, patch)
	if err != nil {
		return nil, internalError("Failed to update " + s.cfg.Singular)
	}
	if err := s.repo.UpdateFields(ctx, id, fields); err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return nil, notFoundError(s.cfg.Singular)
		case errors.Is(err, repository.ErrDuplicate):
			return nil, conflictError(s.cfg.Singular + " already exists")
		}
		s.logger.Error("Failed to update "+s.cfg.Singular, zap.String("id", id), zap.Error(err))
		return nil, internalError("Failed to update " + s.cfg.Singular)
	}

	if s.cfg.AfterUpdate != nil {
		if err := s.cfg.AfterUpdate(ctx, existing, &updated); err != nil {
			s.logger.Error("Post-update sync failed", zap.String("kind", s.cfg.Kind), zap.String("id", id), zap.Error(err))
		}
	}
	return &updated, nil
}

// Delete soft deletes the document and runs the kind's cascade.
func (s *ResourceService[T, PT]) Delete(ctx context.Context, actor policy.Actor, id string) *ServiceError {
	existing, svcErr := s.Get(ctx, id)
	if svcErr != nil {
		return svcErr
	}
	if d := policy.CanPerform(actor, policy.Delete, policy.Target{Kind: s.cfg.Kind, OwnerID: PT(existing).OwnerID()}); !d.Allowed {
		return forbiddenError(d.Reason)
	}

	if err := s.repo.SoftDelete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return notFoundError(s.cfg.Singular)
		}
		s.logger.Error("Failed to delete "+s.cfg.Singular, zap.String("id", id), zap.Error(err))
		return internalError("Failed to delete " + s.cfg.Singular)
	}

	if s.cfg.AfterDelete != nil {
		if err := s.cfg.AfterDelete(ctx, existing); err != nil {
			s.logger.Error("Delete cascade failed", zap.String("kind", s.cfg.Kind), zap.String("id", id), zap.Error(err))
			return internalError("Failed to remove references to " + s.cfg.Singular)
		}
	}

	s.logger.Info(s.cfg.Singular+" deleted", zap.String("id", id), zap.String("by", actor.UserID))
	return nil
}

func decodeObject(body []byte) (map[string]any, *ServiceError) {
	var m map[string]any
	if err := json.Unmarshal(body, &m); err != nil || m == nil {
		return nil, validationError("Request body must be a JSON object", nil)
	}
	return m, nil
}

func dropKeys(m map[string]any, lists ...[]string) {
	for _, list := range lists {
		for _, k := range list {
			delete(m, k)
		}
	}
}

func remarshal(in, out any) error {
	raw, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

// bsonFields returns the stored representation of the patched keys of doc.
func bsonFields(doc any, patch map[string]any) (map[string]any, error) {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var stored bson.M
	if err := bson.Unmarshal(raw, &stored); err != nil {
		return nil, err
	}
	fields := make(map[string]any, len(patch))
	for k := range patch {
		if v, ok := stored[k]; ok {
			fields[k] = v
		} else {
			fields[k] = nil
		}
	}
	return fields, nil
}
