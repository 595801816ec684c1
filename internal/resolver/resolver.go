package resolver

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/brandvault/dam-backend/internal/activity"
	assetsrepo "github.com/brandvault/dam-backend/internal/data/repos/assets"
	types "github.com/brandvault/dam-backend/internal/domain"
	apperr "github.com/brandvault/dam-backend/internal/pkg/errors"
	"github.com/brandvault/dam-backend/internal/platform/dbctx"
	"github.com/brandvault/dam-backend/internal/platform/logger"
)

// sourceRank orders producers for resolution. Lower wins.
var sourceRank = map[string]int{
	types.SourceUser:   0,
	types.SourceAI:     1,
	types.SourceSystem: 2,
	types.SourceEXIF:   3,
}

// Resolver turns open candidates into canonical asset metadata and tags.
// ResolveAsset is idempotent: resolved candidates are never reconsidered and
// re-running over an already-resolved asset changes nothing.
type Resolver interface {
	// ResolveAsset resolves all open metadata candidates (one winner per
	// field) and all open tag candidates (each tag independently) for the
	// asset. Returns how many fields and tags were resolved.
	ResolveAsset(dbc dbctx.Context, asset *types.Asset) (fields int, tags int, err error)

	// Dismiss closes a candidate without resolving it. A resolved candidate
	// cannot be dismissed.
	DismissMetadata(dbc dbctx.Context, candidateID uuid.UUID) error
	DismissTag(dbc dbctx.Context, candidateID uuid.UUID) error

	// ApproveMetadata stamps approval on a canonical value written by a
	// requires_approval field.
	ApproveMetadata(dbc dbctx.Context, assetID, fieldID, approverID uuid.UUID) error
}

type resolver struct {
	db         *gorm.DB
	log        *logger.Logger
	candidates assetsrepo.CandidateRepo
	fields     assetsrepo.MetadataFieldRepo
	metadata   assetsrepo.AssetMetadataRepo
	assetTags  assetsrepo.AssetTagRepo
	history    assetsrepo.MetadataHistoryRepo
	activity   activity.Writer
}

func New(
	db *gorm.DB,
	baseLog *logger.Logger,
	candidates assetsrepo.CandidateRepo,
	fields assetsrepo.MetadataFieldRepo,
	metadata assetsrepo.AssetMetadataRepo,
	assetTags assetsrepo.AssetTagRepo,
	history assetsrepo.MetadataHistoryRepo,
	act activity.Writer,
) Resolver {
	return &resolver{
		db:         db,
		log:        baseLog.With("service", "CandidateResolver"),
		candidates: candidates,
		fields:     fields,
		metadata:   metadata,
		assetTags:  assetTags,
		history:    history,
		activity:   act,
	}
}

func (r *resolver) ResolveAsset(dbc dbctx.Context, asset *types.Asset) (int, int, error) {
	if asset == nil || asset.ID == uuid.Nil {
		return 0, 0, fmt.Errorf("%w: missing asset", apperr.ErrInvalidArgument)
	}

	openMeta, err := r.candidates.ListOpenMetadataByAsset(dbc, asset.ID)
	if err != nil {
		return 0, 0, err
	}
	fieldsResolved := 0
	for fieldID, group := range groupByField(openMeta) {
		resolved, err := r.resolveField(dbc, asset, fieldID, group)
		if err != nil {
			return fieldsResolved, 0, err
		}
		if resolved {
			fieldsResolved++
		}
	}

	openTags, err := r.candidates.ListOpenTagsByAsset(dbc, asset.ID)
	if err != nil {
		return fieldsResolved, 0, err
	}
	tagsResolved, err := r.resolveTags(dbc, asset, openTags)
	if err != nil {
		return fieldsResolved, tagsResolved, err
	}
	return fieldsResolved, tagsResolved, nil
}

// resolveField picks one winner among the open candidates for a field and
// writes the canonical value. Losers stay open for later human review.
func (r *resolver) resolveField(dbc dbctx.Context, asset *types.Asset, fieldID uuid.UUID, group []*types.MetadataCandidate) (bool, error) {
	field, err := r.fields.GetByID(dbc, fieldID)
	if err != nil {
		return false, err
	}
	if field == nil {
		// Candidates pointing at a deleted field stay open; nothing to do.
		return false, nil
	}

	eligible := group
	if field.PopulationMode == types.PopulationAutomatic {
		eligible = nil
		for _, c := range group {
			if c.Source != types.SourceUser {
				eligible = append(eligible, c)
			}
		}
	}
	if len(eligible) == 0 {
		return false, nil
	}

	winner := pickMetadataWinner(eligible)

	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	resolved := false
	err = transaction.WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		inner := dbctx.Context{Ctx: dbc.Ctx, Tx: txx}

		// Guarded stamp: if a concurrent run already resolved this candidate
		// the canonical write below has happened too, so stop here.
		won, err := r.candidates.MarkMetadataResolved(inner, winner.ID, time.Now())
		if err != nil {
			return err
		}
		if !won {
			return nil
		}

		prev, err := r.metadata.GetByAssetField(inner, asset.ID, fieldID)
		if err != nil {
			return err
		}
		row := &types.AssetMetadata{
			ID:         uuid.New(),
			AssetID:    asset.ID,
			FieldID:    fieldID,
			Value:      winner.Value,
			Source:     winner.Source,
			Confidence: winner.Confidence,
		}
		// requires_approval fields land with approval pending (approved_at
		// null); ApproveMetadata stamps it later. Other fields need no stamp
		// either, the null simply never matters for them.
		updated, changed, err := r.metadata.Upsert(inner, row)
		if err != nil {
			return err
		}
		if changed {
			oldVal := ""
			if prev != nil {
				oldVal = prev.Value
			}
			if err := r.history.Append(inner, []*types.MetadataHistory{{
				ID:       uuid.New(),
				AssetID:  asset.ID,
				FieldID:  fieldID,
				OldValue: oldVal,
				NewValue: updated.Value,
				Source:   updated.Source,
			}}); err != nil {
				return err
			}
			r.activity.Record(inner, activity.Entry{
				TenantID:    asset.TenantID,
				SubjectKind: types.SubjectAsset,
				SubjectID:   asset.ID,
				ActorKind:   types.ActorSystem,
				Event:       "metadata_resolved",
				Data:        map[string]any{"field_id": fieldID, "source": updated.Source},
			})
		}
		resolved = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return resolved, nil
}

// resolveTags resolves every open tag candidate into the asset's tag set.
// Duplicate tags from different sources collapse onto one AssetTag row.
func (r *resolver) resolveTags(dbc dbctx.Context, asset *types.Asset, open []*types.TagCandidate) (int, error) {
	resolved := 0
	for _, c := range open {
		won, err := r.candidates.MarkTagResolved(dbc, c.ID, time.Now())
		if err != nil {
			return resolved, err
		}
		if !won {
			continue
		}
		if err := r.assetTags.EnsureTag(dbc, &types.AssetTag{
			ID:         uuid.New(),
			AssetID:    asset.ID,
			Tag:        c.Tag,
			Source:     c.Source,
			Confidence: c.Confidence,
		}); err != nil {
			return resolved, err
		}
		resolved++
	}
	if resolved > 0 {
		r.activity.Record(dbc, activity.Entry{
			TenantID:    asset.TenantID,
			SubjectKind: types.SubjectAsset,
			SubjectID:   asset.ID,
			ActorKind:   types.ActorSystem,
			Event:       "tags_resolved",
			Data:        map[string]any{"count": resolved},
		})
	}
	return resolved, nil
}

func (r *resolver) DismissMetadata(dbc dbctx.Context, candidateID uuid.UUID) error {
	if candidateID == uuid.Nil {
		return fmt.Errorf("%w: missing candidate id", apperr.ErrInvalidArgument)
	}
	c, err := r.candidates.GetMetadataByID(dbc, candidateID)
	if err != nil {
		return err
	}
	if c == nil {
		return fmt.Errorf("%w: metadata candidate %s", apperr.ErrNotFound, candidateID)
	}
	if c.ResolvedAt != nil {
		return fmt.Errorf("%w: cannot dismiss a resolved candidate", apperr.ErrInvalidTransition)
	}
	_, err = r.candidates.MarkMetadataDismissed(dbc, candidateID, time.Now())
	return err
}

func (r *resolver) DismissTag(dbc dbctx.Context, candidateID uuid.UUID) error {
	if candidateID == uuid.Nil {
		return fmt.Errorf("%w: missing candidate id", apperr.ErrInvalidArgument)
	}
	c, err := r.candidates.GetTagByID(dbc, candidateID)
	if err != nil {
		return err
	}
	if c == nil {
		return fmt.Errorf("%w: tag candidate %s", apperr.ErrNotFound, candidateID)
	}
	if c.ResolvedAt != nil {
		return fmt.Errorf("%w: cannot dismiss a resolved candidate", apperr.ErrInvalidTransition)
	}
	_, err = r.candidates.MarkTagDismissed(dbc, candidateID, time.Now())
	return err
}

func (r *resolver) ApproveMetadata(dbc dbctx.Context, assetID, fieldID, approverID uuid.UUID) error {
	if assetID == uuid.Nil || fieldID == uuid.Nil || approverID == uuid.Nil {
		return fmt.Errorf("%w: missing id", apperr.ErrInvalidArgument)
	}
	row, err := r.metadata.GetByAssetField(dbc, assetID, fieldID)
	if err != nil {
		return err
	}
	if row == nil {
		return fmt.Errorf("%w: asset metadata", apperr.ErrNotFound)
	}
	return r.metadata.Approve(dbc, assetID, fieldID, approverID, time.Now())
}

// pickMetadataWinner orders by producer rank, then confidence desc (missing
// confidence sorts last), then recency desc.
func pickMetadataWinner(cands []*types.MetadataCandidate) *types.MetadataCandidate {
	sorted := make([]*types.MetadataCandidate, len(cands))
	copy(sorted, cands)
	sort.SliceStable(sorted, func(i, j int) bool {
		ri, rj := rankOf(sorted[i].Source), rankOf(sorted[j].Source)
		if ri != rj {
			return ri < rj
		}
		ci, cj := confOf(sorted[i]), confOf(sorted[j])
		if ci != cj {
			return ci > cj
		}
		return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
	})
	return sorted[0]
}

func rankOf(source string) int {
	if r, ok := sourceRank[source]; ok {
		return r
	}
	return len(sourceRank)
}

func confOf(c *types.MetadataCandidate) float64 {
	if c == nil || c.Confidence == nil {
		return -1
	}
	return *c.Confidence
}

func groupByField(cands []*types.MetadataCandidate) map[uuid.UUID][]*types.MetadataCandidate {
	out := map[uuid.UUID][]*types.MetadataCandidate{}
	for _, c := range cands {
		out[c.FieldID] = append(out[c.FieldID], c)
	}
	return out
}
