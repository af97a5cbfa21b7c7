package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/fateprotocol/fate-engine/internal/domain"
)

// archiveBatch caps the number of settled entities fetched per archive run.
const archiveBatch = 10_000

// archivePartSize is the multipart chunk size for archive uploads.
const archivePartSize int64 = 8 * 1024 * 1024

// MatchArchiveSource provides read access to settled matches. The Postgres
// match store satisfies it implicitly.
type MatchArchiveSource interface {
	ListSettledBefore(ctx context.Context, cutoff time.Time, limit int) ([]uint64, error)
	Get(ctx context.Context, id uint64) (*domain.Match, error)
}

// ProposalArchiveSource provides read access to settled proposals.
type ProposalArchiveSource interface {
	ListSettledBefore(ctx context.Context, cutoff time.Time, limit int) ([]uint64, error)
	Get(ctx context.Context, id uint64) (*domain.Proposal, error)
}

// SettlementArchiver copies settled matches and proposals to cold storage as
// monthly JSONL files, partitioned by settlement month. Finished months are
// written once and skipped on later runs; the month containing the cutoff is
// rewritten each run as more entities settle into it.
//
// Deletion of archived rows from the primary store is intentionally not
// performed here.
type SettlementArchiver struct {
	writer    domain.BlobWriter
	reader    domain.BlobReader
	matches   MatchArchiveSource
	proposals ProposalArchiveSource
	audit     domain.AuditStore
}

// NewSettlementArchiver creates a SettlementArchiver.
func NewSettlementArchiver(
	writer domain.BlobWriter,
	reader domain.BlobReader,
	matches MatchArchiveSource,
	proposals ProposalArchiveSource,
	audit domain.AuditStore,
) *SettlementArchiver {
	return &SettlementArchiver{
		writer:    writer,
		reader:    reader,
		matches:   matches,
		proposals: proposals,
		audit:     audit,
	}
}

// matchEntryRecord is the archived form of one player entry.
type matchEntryRecord struct {
	Player     string `json:"player"`
	Prediction string `json:"prediction,omitempty"`
	Stake      uint64 `json:"stake"`
	Claimed    bool   `json:"claimed"`
}

// matchArchiveRecord is the archived form of a settled match.
type matchArchiveRecord struct {
	ID                uint64             `json:"id"`
	FeedID            string             `json:"feed_id"`
	Creator           string             `json:"creator"`
	Type              string             `json:"type"`
	Status            string             `json:"status"`
	EntryFee          uint64             `json:"entry_fee"`
	FeeBps            uint16             `json:"fee_bps"`
	StartingPrice     uint64             `json:"starting_price"`
	FinalPrice        *uint64            `json:"final_price,omitempty"`
	WinningPrediction string             `json:"winning_prediction,omitempty"`
	Refund            bool               `json:"refund"`
	TotalPot          uint64             `json:"total_pot"`
	Entries           []matchEntryRecord `json:"entries"`
	CreatedAt         time.Time          `json:"created_at"`
	ResolvedAt        *time.Time         `json:"resolved_at,omitempty"`
}

// positionArchiveRecord is the archived form of one voter position.
type positionArchiveRecord struct {
	Voter     string `json:"voter"`
	PassStake uint64 `json:"pass_stake"`
	FailStake uint64 `json:"fail_stake"`
	Claimed   bool   `json:"claimed"`
}

// proposalArchiveRecord is the archived form of a settled proposal.
type proposalArchiveRecord struct {
	ID            uint64                  `json:"id"`
	Proposer      string                  `json:"proposer"`
	ProposerStake uint64                  `json:"proposer_stake"`
	MarketName    string                  `json:"market_name"`
	FeedID        string                  `json:"feed_id"`
	Status        string                  `json:"status"`
	FeeBps        uint16                  `json:"fee_bps"`
	PassPool      uint64                  `json:"pass_pool"`
	FailPool      uint64                  `json:"fail_pool"`
	TotalVolume   uint64                  `json:"total_volume"`
	Refund        bool                    `json:"refund"`
	Positions     []positionArchiveRecord `json:"positions"`
	CreatedAt     time.Time               `json:"created_at"`
	ResolvedAt    *time.Time              `json:"resolved_at,omitempty"`
	ExecutedAt    *time.Time              `json:"executed_at,omitempty"`
}

// ArchiveMatches uploads all matches settled before the cutoff, grouped into
// monthly JSONL files under archive/matches/. It returns the number of
// records written in this run.
func (a *SettlementArchiver) ArchiveMatches(ctx context.Context, before time.Time) (int64, error) {
	ids, err := a.matches.ListSettledBefore(ctx, before, archiveBatch)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive matches query: %w", err)
	}

	byMonth := make(map[string][]matchArchiveRecord)
	for _, id := range ids {
		m, err := a.matches.Get(ctx, id)
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive matches fetch %d: %w", id, err)
		}
		rec := newMatchArchiveRecord(m)
		month := settlementMonth(m.ResolvedAt, m.CreatedAt)
		byMonth[month] = append(byMonth[month], rec)
	}

	return a.uploadMonths(ctx, "matches", toRows(byMonth), before)
}

// ArchiveProposals uploads all proposals settled before the cutoff, grouped
// into monthly JSONL files under archive/proposals/.
func (a *SettlementArchiver) ArchiveProposals(ctx context.Context, before time.Time) (int64, error) {
	ids, err := a.proposals.ListSettledBefore(ctx, before, archiveBatch)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive proposals query: %w", err)
	}

	byMonth := make(map[string][]proposalArchiveRecord)
	for _, id := range ids {
		p, err := a.proposals.Get(ctx, id)
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive proposals fetch %d: %w", id, err)
		}
		rec := newProposalArchiveRecord(p)
		month := settlementMonth(p.ResolvedAt, p.CreatedAt)
		byMonth[month] = append(byMonth[month], rec)
	}

	return a.uploadMonths(ctx, "proposals", toRows(byMonth), before)
}

// toRows erases the record type so uploadMonths can serve both entity kinds.
func toRows[T any](byMonth map[string][]T) map[string][]any {
	out := make(map[string][]any, len(byMonth))
	for month, recs := range byMonth {
		rows := make([]any, len(recs))
		for i, r := range recs {
			rows[i] = r
		}
		out[month] = rows
	}
	return out
}

// uploadKey builds the S3 key for one monthly archive file, e.g.
// archive/matches/2026-03.jsonl.
func uploadKey(kind, month string) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, month)
}

// uploadMonths writes one JSONL object per settlement month. A month whose
// end already lies before the cutoff can never gain new records, so it is
// skipped when its archive object exists.
func (a *SettlementArchiver) uploadMonths(ctx context.Context, kind string, byMonth map[string][]any, before time.Time) (int64, error) {
	months := make([]string, 0, len(byMonth))
	for m := range byMonth {
		months = append(months, m)
	}
	sort.Strings(months)

	var written int64
	for _, month := range months {
		path := uploadKey(kind, month)

		if monthComplete(month, before) {
			exists, err := a.reader.Exists(ctx, path)
			if err != nil {
				return written, fmt.Errorf("s3blob: archive %s check %s: %w", kind, path, err)
			}
			if exists {
				continue
			}
		}

		buf, err := marshalJSONL(byMonth[month])
		if err != nil {
			return written, fmt.Errorf("s3blob: archive %s marshal %s: %w", kind, month, err)
		}

		if err := a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), archivePartSize); err != nil {
			return written, fmt.Errorf("s3blob: archive %s upload %s: %w", kind, path, err)
		}

		count := int64(len(byMonth[month]))
		written += count

		if err := a.audit.Log(ctx, "archive."+kind, map[string]any{
			"path":   path,
			"count":  count,
			"before": before.Format(time.RFC3339),
		}); err != nil {
			return written, fmt.Errorf("s3blob: archive %s audit log: %w", kind, err)
		}
	}

	return written, nil
}

func newMatchArchiveRecord(m *domain.Match) matchArchiveRecord {
	rec := matchArchiveRecord{
		ID:            m.ID,
		FeedID:        m.FeedID,
		Creator:       m.Creator,
		Type:          string(m.Type),
		Status:        string(m.Status),
		EntryFee:      m.EntryFee,
		FeeBps:        m.FeeBps,
		StartingPrice: m.StartingPrice,
		FinalPrice:    m.FinalPrice,
		Refund:        m.Refund,
		TotalPot:      m.TotalPot,
		Entries:       make([]matchEntryRecord, 0, len(m.Entries)),
		CreatedAt:     m.CreatedAt,
		ResolvedAt:    m.ResolvedAt,
	}
	if m.WinningPrediction != nil {
		rec.WinningPrediction = string(*m.WinningPrediction)
	}
	for _, e := range m.Entries {
		rec.Entries = append(rec.Entries, matchEntryRecord{
			Player:     e.Player,
			Prediction: string(e.Prediction),
			Stake:      e.Stake,
			Claimed:    e.Claimed,
		})
	}
	sort.Slice(rec.Entries, func(i, j int) bool {
		return rec.Entries[i].Player < rec.Entries[j].Player
	})
	return rec
}

func newProposalArchiveRecord(p *domain.Proposal) proposalArchiveRecord {
	rec := proposalArchiveRecord{
		ID:            p.ID,
		Proposer:      p.Proposer,
		ProposerStake: p.ProposerStake,
		MarketName:    p.MarketName,
		FeedID:        p.FeedID,
		Status:        string(p.Status),
		FeeBps:        p.FeeBps,
		PassPool:      p.Pool.Stake(domain.SideA),
		FailPool:      p.Pool.Stake(domain.SideB),
		TotalVolume:   p.TotalVolume,
		Refund:        p.Refund,
		Positions:     make([]positionArchiveRecord, 0, len(p.Positions)),
		CreatedAt:     p.CreatedAt,
		ResolvedAt:    p.ResolvedAt,
		ExecutedAt:    p.ExecutedAt,
	}
	for _, pos := range p.Positions {
		rec.Positions = append(rec.Positions, positionArchiveRecord{
			Voter:     pos.Voter,
			PassStake: pos.PassStake,
			FailStake: pos.FailStake,
			Claimed:   pos.Claimed,
		})
	}
	sort.Slice(rec.Positions, func(i, j int) bool {
		return rec.Positions[i].Voter < rec.Positions[j].Voter
	})
	return rec
}

// settlementMonth returns the "2006-01" partition key for an entity, keyed
// on resolution time with creation time as the fallback for cancelled
// entities that never resolved.
func settlementMonth(resolvedAt *time.Time, createdAt time.Time) string {
	t := createdAt
	if resolvedAt != nil {
		t = *resolvedAt
	}
	return t.UTC().Format("2006-01")
}

// monthComplete reports whether the month (in "2006-01" form) ends before
// the cutoff, meaning its record set can no longer change.
func monthComplete(month string, cutoff time.Time) bool {
	start, err := time.Parse("2006-01", month)
	if err != nil {
		return false
	}
	return start.AddDate(0, 1, 0).Before(cutoff)
}

// marshalJSONL serialises a slice of values as newline-delimited JSON.
func marshalJSONL(records []any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
