package services

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"

	"github.com/neighborwatch/incident-server/internal/apperr"
	"github.com/neighborwatch/incident-server/internal/models"
	"github.com/neighborwatch/incident-server/internal/rbac"
	"github.com/neighborwatch/incident-server/internal/store"
)

// IntegrityStatus summarizes the current audit tree
type IntegrityStatus struct {
	Root      string    `json:"root"`
	LeafCount int       `json:"leaf_count"`
	BuiltAt   time.Time `json:"built_at"`
}

// IntegrityService keeps a Merkle tree over the audit trail so that any
// rewritten audit row changes the published root
type IntegrityService struct {
	store  store.Store
	policy *rbac.Policy
	logger *zap.SugaredLogger

	mu            sync.RWMutex
	leaves        []string
	layers        [][]string
	positions     map[uuid.UUID]int
	root          string
	lastBuildTime time.Time
}

// NewIntegrityService creates an integrity service with an empty tree
func NewIntegrityService(st store.Store, policy *rbac.Policy, logger *zap.SugaredLogger) *IntegrityService {
	return &IntegrityService{
		store:     st,
		policy:    policy,
		logger:    logger,
		positions: make(map[uuid.UUID]int),
	}
}

// LeafHash is the BLAKE2b-256 digest of an audit row's canonical form
func LeafHash(e models.AuditLog) string {
	var user, record string
	if e.UserID != nil {
		user = e.UserID.String()
	}
	if e.RecordID != nil {
		record = e.RecordID.String()
	}
	canonical := strings.Join([]string{
		e.ID.String(),
		user,
		e.Action,
		e.TableName,
		record,
		string(e.OldValues),
		string(e.NewValues),
		e.IPAddress,
		e.UserAgent,
		e.CreatedAt.UTC().Format(time.RFC3339Nano),
	}, "\x1f")
	sum := blake2b.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

// Rebuild reloads every audit row, oldest first, and rebuilds the tree
func (s *IntegrityService) Rebuild(ctx context.Context) error {
	entries, err := s.store.ListAuditLogs(ctx, models.AuditFilter{Ascending: true})
	if err != nil {
		return fmt.Errorf("load audit trail: %w", err)
	}

	leaves := make([]string, len(entries))
	positions := make(map[uuid.UUID]int, len(entries))
	for i, e := range entries {
		leaves[i] = LeafHash(e)
		positions[e.ID] = i
	}
	layers, root := buildTree(leaves)

	s.mu.Lock()
	s.leaves = leaves
	s.layers = layers
	s.positions = positions
	s.root = root
	s.lastBuildTime = time.Now().UTC()
	s.mu.Unlock()

	s.logger.Infow("Merkle tree rebuilt", "leaves", len(leaves), "root", root)
	return nil
}

// GetRoot returns the current Merkle root
func (s *IntegrityService) GetRoot() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.root
}

// GetLeafCount returns the number of leaves
func (s *IntegrityService) GetLeafCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.leaves)
}

// GetLastBuildTime returns when the tree was last rebuilt
func (s *IntegrityService) GetLastBuildTime() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastBuildTime
}

// Status returns the published root for admins
func (s *IntegrityService) Status(actor models.Actor) (IntegrityStatus, error) {
	if !s.policy.HasPermission(actor, rbac.ActionAuditRead, rbac.Target{}) {
		return IntegrityStatus{}, apperr.New(apperr.KindForbidden, "audit integrity is restricted to admins")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return IntegrityStatus{Root: s.root, LeafCount: len(s.leaves), BuiltAt: s.lastBuildTime}, nil
}

// ProofFor returns the inclusion proof of one audit row. Rows written after
// the last rebuild are not found until the next one.
func (s *IntegrityService) ProofFor(actor models.Actor, auditID uuid.UUID) (*models.MerkleProof, error) {
	if !s.policy.HasPermission(actor, rbac.ActionAuditRead, rbac.Target{}) {
		return nil, apperr.New(apperr.KindForbidden, "audit integrity is restricted to admins")
	}
	s.mu.RLock()
	idx, ok := s.positions[auditID]
	s.mu.RUnlock()
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "audit entry is not in the current tree")
	}
	return s.GetProof(idx)
}

// GetProof generates a Merkle proof for the given leaf index
func (s *IntegrityService) GetProof(index int) (*models.MerkleProof, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if index < 0 || index >= len(s.leaves) {
		return nil, apperr.Newf(apperr.KindNotFound, "index %d out of range (0-%d)", index, len(s.leaves)-1)
	}

	proof := &models.MerkleProof{
		LeafHash: s.leaves[index],
		Root:     s.root,
		Index:    index,
		Proof:    make([]models.ProofStep, 0, len(s.layers)),
	}

	current := index
	for i := 0; i < len(s.layers)-1; i++ {
		layer := s.layers[i]
		if current%2 == 1 {
			proof.Proof = append(proof.Proof, models.ProofStep{Hash: layer[current-1], Position: "left"})
		} else {
			sibling := layer[current]
			if current+1 < len(layer) {
				sibling = layer[current+1]
			}
			proof.Proof = append(proof.Proof, models.ProofStep{Hash: sibling, Position: "right"})
		}
		current /= 2
	}

	proof.Verified = true
	return proof, nil
}

// VerifyProof recomputes the root from a proof. It reports whether the proof
// is internally consistent and whether it matches the current root.
func (s *IntegrityService) VerifyProof(proof models.MerkleProof) (valid, current bool) {
	hash := proof.LeafHash
	for _, step := range proof.Proof {
		switch step.Position {
		case "left":
			hash = hashPair(step.Hash, hash)
		case "right":
			hash = hashPair(hash, step.Hash)
		default:
			return false, false
		}
	}
	valid = hash != "" && hash == proof.Root
	return valid, valid && proof.Root == s.GetRoot()
}

// buildTree returns every layer from the leaves up and the root. An odd
// node at the end of a layer is paired with itself.
func buildTree(leaves []string) ([][]string, string) {
	if len(leaves) == 0 {
		return nil, ""
	}

	layer := make([]string, len(leaves))
	copy(layer, leaves)
	layers := [][]string{layer}

	for len(layer) > 1 {
		next := make([]string, 0, (len(layer)+1)/2)
		for i := 0; i < len(layer); i += 2 {
			left := layer[i]
			right := left
			if i+1 < len(layer) {
				right = layer[i+1]
			}
			next = append(next, hashPair(left, right))
		}
		layers = append(layers, next)
		layer = next
	}
	return layers, layer[0]
}

// hashPair combines and hashes two nodes
func hashPair(left, right string) string {
	sum := blake2b.Sum256([]byte(left + right))
	return hex.EncodeToString(sum[:])
}

// IntegrityWorker rebuilds the audit tree on a cron schedule
type IntegrityWorker struct {
	svc      *IntegrityService
	schedule string
	logger   *zap.SugaredLogger
}

// NewIntegrityWorker creates a new background integrity worker
func NewIntegrityWorker(svc *IntegrityService, schedule string, logger *zap.SugaredLogger) *IntegrityWorker {
	return &IntegrityWorker{svc: svc, schedule: schedule, logger: logger}
}

// cronLogger routes cron's own logging through zap
type cronLogger struct {
	logger *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}

// Start builds the tree once, then rebuilds it on schedule until ctx is
// cancelled. It returns an error only for an invalid schedule.
func (w *IntegrityWorker) Start(ctx context.Context) error {
	logger := cronLogger{logger: w.logger}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc(w.schedule, func() { w.rebuild(ctx) }); err != nil {
		return fmt.Errorf("integrity schedule %q: %w", w.schedule, err)
	}

	w.rebuild(ctx)
	c.Start()
	w.logger.Infow("Integrity worker started", "schedule", w.schedule)

	<-ctx.Done()
	<-c.Stop().Done()
	w.logger.Info("Integrity worker stopped")
	return nil
}

func (w *IntegrityWorker) rebuild(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if err := w.svc.Rebuild(ctx); err != nil {
		w.logger.Errorw("Merkle tree rebuild failed", "error", err)
	}
}
