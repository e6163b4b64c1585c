package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lgulliver/chunkup/internal/checksum"
	"github.com/lgulliver/chunkup/internal/common"
	"github.com/lgulliver/chunkup/internal/session"
	"github.com/lgulliver/chunkup/internal/storage"
	"github.com/lgulliver/chunkup/pkg/types"
	"github.com/lgulliver/chunkup/pkg/utils"
	"github.com/rs/zerolog/log"
)

// Service implements the chunk append, completion and resume protocol
type Service struct {
	store  session.Store
	blobs  storage.BlobStorage
	locker common.Locker
	opts   Options
	now    func() time.Time
}

// NewService creates a new upload service
func NewService(store session.Store, blobs storage.BlobStorage, locker common.Locker, opts Options) *Service {
	if opts.Hooks == nil {
		opts.Hooks = noopHooks{}
	}
	if opts.UploadPath == "" {
		opts.UploadPath = "chunked_uploads/2006/01/02"
	}
	return &Service{
		store:  store,
		blobs:  blobs,
		locker: locker,
		opts:   opts,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// AppendRequest carries one chunk of an upload
type AppendRequest struct {
	// UploadID resumes an existing upload; with grouping it is the group id
	UploadID string
	// GroupID adds a new field to an existing group when UploadID is empty
	GroupID         string
	FieldName       string
	Filename        string
	Chunk           io.Reader
	ChunkSize       int64
	ContentRange    string
	Owner           *uuid.UUID
	ContentChecksum string
	Attrs           map[string]string
}

// CompleteRequest asks for an upload to be verified and finished
type CompleteRequest struct {
	UploadID string
	Owner    *uuid.UUID
	// Claims maps "<algorithm>" or "<field>.<algorithm>" to a digest
	Claims map[string]string
}

// Result is the client-facing state of an upload after an operation
type Result struct {
	UploadID  string             `json:"upload_id"`
	Offset    int64              `json:"offset"`
	ExpiresAt time.Time          `json:"expires_at"`
	Status    types.UploadStatus `json:"status,omitempty"`
}

func (s *Service) scope(owner *uuid.UUID) session.Scope {
	if !s.opts.OwnerScoped {
		return session.Unscoped()
	}
	return session.OwnedBy(owner)
}

func (s *Service) checkPermission(ctx context.Context, owner *uuid.UUID) error {
	if s.opts.Permission != nil && !s.opts.Permission(ctx, owner) {
		return NewError(KindForbidden, "Authentication credentials were not provided")
	}
	return nil
}

func (s *Service) result(upload *types.Upload) *Result {
	return &Result{
		UploadID:  upload.PublicID(),
		Offset:    upload.Offset,
		ExpiresAt: upload.ExpiresAt(s.opts.ExpirationDelta),
		Status:    upload.Status,
	}
}

func groupLockKey(groupID string) string {
	return "group:" + groupID
}

// target is the upload an append resolved to, locked for the rest of the call
type target struct {
	upload   *types.Upload
	newGroup *types.UploadGroup
	created  bool
	unlock   func()
}

// AppendChunk validates one chunk against the upload state and appends it
func (s *Service) AppendChunk(ctx context.Context, req *AppendRequest) (*Result, error) {
	if err := s.checkPermission(ctx, req.Owner); err != nil {
		return nil, err
	}

	t, err := s.resolve(ctx, req)
	if err != nil {
		return nil, err
	}
	defer t.unlock()

	upload := t.upload
	if !t.created {
		if err := s.checkAppendable(upload); err != nil {
			return nil, err
		}
	}

	byteRange, err := ParseContentRange(req.ContentRange, req.ChunkSize, s.opts.RequireRangeHeader)
	if err != nil {
		return nil, err
	}
	if s.opts.MaxBytes > 0 && byteRange.Total > s.opts.MaxBytes {
		return nil, NewError(KindSizeLimitExceeded, "Size of file exceeds the limit (%d bytes)", s.opts.MaxBytes)
	}
	if upload.Offset != byteRange.Start {
		return nil, offsetMismatch(upload.Offset)
	}
	if req.ChunkSize != byteRange.Size() {
		return nil, NewError(KindChunkSizeMismatch, "File size doesn't match headers")
	}

	if err := s.write(ctx, t, req); err != nil {
		return nil, err
	}

	log.Debug().
		Str("upload_id", upload.PublicID()).
		Str("session_id", upload.ID).
		Int64("offset", upload.Offset).
		Bool("created", t.created).
		Msg("chunk accepted")

	return s.result(upload), nil
}

// resolve finds the upload a chunk belongs to and takes its lock. New
// uploads are only built in memory here.
func (s *Service) resolve(ctx context.Context, req *AppendRequest) (*target, error) {
	scope := s.scope(req.Owner)

	if !s.opts.Grouping {
		if req.UploadID == "" {
			return s.claim(ctx, &target{upload: s.newUpload(req, nil), created: true, unlock: func() {}})
		}
		unlock, err := s.locker.Lock(ctx, req.UploadID)
		if err != nil {
			return nil, fmt.Errorf("failed to lock upload: %w", err)
		}
		upload, err := s.store.Get(ctx, req.UploadID, scope)
		if err != nil {
			unlock()
			return nil, s.lookupError(err, req.UploadID)
		}
		return &target{upload: upload, unlock: unlock}, nil
	}

	groupID := req.UploadID
	if groupID == "" {
		groupID = req.GroupID
	}
	if groupID == "" {
		group := &types.UploadGroup{ID: utils.GenerateUploadID(), OwnerID: req.Owner, CreatedAt: s.now()}
		return s.claim(ctx, &target{upload: s.newUpload(req, &group.ID), newGroup: group, created: true, unlock: func() {}})
	}

	// a concurrent request may create the member between the two lookups
	for attempt := 0; attempt < 2; attempt++ {
		group, err := s.store.GetGroup(ctx, groupID, scope)
		if err != nil {
			return nil, s.lookupError(err, groupID)
		}

		if member := findMember(group, req.FieldName); member != nil {
			unlock, err := s.locker.Lock(ctx, member.ID)
			if err != nil {
				return nil, fmt.Errorf("failed to lock upload: %w", err)
			}
			upload, err := s.store.Get(ctx, member.ID, scope)
			if err != nil {
				unlock()
				return nil, s.lookupError(err, groupID)
			}
			return &target{upload: upload, unlock: unlock}, nil
		}

		unlock, err := s.locker.Lock(ctx, groupLockKey(groupID))
		if err != nil {
			return nil, fmt.Errorf("failed to lock upload group: %w", err)
		}
		group, err = s.store.GetGroup(ctx, groupID, scope)
		if err != nil {
			unlock()
			return nil, s.lookupError(err, groupID)
		}
		if findMember(group, req.FieldName) != nil {
			unlock()
			continue
		}
		if err := s.checkJoinable(group); err != nil {
			unlock()
			return nil, err
		}
		return s.claim(ctx, &target{upload: s.newUpload(req, &group.ID), created: true, unlock: unlock})
	}

	return nil, fmt.Errorf("upload group %s changed while resolving field %q", groupID, req.FieldName)
}

// claim locks the id of a new upload until the call ends. Its blob exists
// before its record, and the orphan sweep takes the same lock before it
// decides a blob has no record.
func (s *Service) claim(ctx context.Context, t *target) (*target, error) {
	unlock, err := s.locker.Lock(ctx, t.upload.ID)
	if err != nil {
		t.unlock()
		return nil, fmt.Errorf("failed to lock upload: %w", err)
	}
	held := t.unlock
	t.unlock = func() {
		unlock()
		held()
	}
	return t, nil
}

func findMember(group *types.UploadGroup, fieldName string) *types.Upload {
	for i := range group.Uploads {
		if group.Uploads[i].FieldName == fieldName {
			return &group.Uploads[i]
		}
	}
	return nil
}

func (s *Service) lookupError(err error, id string) error {
	if errors.Is(err, session.ErrNotFound) {
		return NewError(KindNotFound, "No upload found for id %s", id)
	}
	return fmt.Errorf("failed to load upload: %w", err)
}

func (s *Service) newUpload(req *AppendRequest, groupID *string) *types.Upload {
	now := s.now()
	id := utils.GenerateUploadID()

	var metadata types.JSONMap
	if len(req.Attrs) > 0 {
		metadata = types.JSONMap{}
		for key, value := range req.Attrs {
			metadata[key] = value
		}
	}

	return &types.Upload{
		ID:              id,
		GroupID:         groupID,
		OwnerID:         req.Owner,
		FieldName:       req.FieldName,
		Filename:        utils.SanitizeFilename(req.Filename),
		Status:          types.StatusUploading,
		ContentChecksum: req.ContentChecksum,
		StoragePath:     path.Join(now.Format(s.opts.UploadPath), id+".part"),
		Metadata:        metadata,
		CreatedAt:       now,
	}
}

func (s *Service) checkAppendable(upload *types.Upload) error {
	if upload.Expired(s.opts.ExpirationDelta, s.now()) {
		return NewError(KindSessionExpired, "Upload has expired")
	}
	return terminalError(upload.Status)
}

// checkJoinable rejects a new field for an expired or finished group
func (s *Service) checkJoinable(group *types.UploadGroup) error {
	if group.Expired(s.opts.ExpirationDelta, s.now()) {
		return NewError(KindSessionExpired, "Upload has expired")
	}

	var finished []string
	status := types.StatusUploading
	for i := range group.Uploads {
		member := &group.Uploads[i]
		if !member.Status.Terminal() {
			continue
		}
		finished = append(finished, memberName(member))
		if status != types.StatusFailed {
			status = member.Status
		}
	}
	if len(finished) == 0 {
		return nil
	}

	err := terminalError(status).(*Error)
	err.Members = finished
	return err
}

func terminalError(status types.UploadStatus) error {
	switch status {
	case types.StatusComplete:
		return NewError(KindAlreadyComplete, `Upload has already been marked as "complete"`)
	case types.StatusFailed:
		return NewError(KindAlreadyFailed, `Upload has already been marked as "failed"`)
	}
	return nil
}

// write appends the chunk and persists the new offset. The offset only
// advances once the bytes are durable.
func (s *Service) write(ctx context.Context, t *target, req *AppendRequest) error {
	upload := t.upload

	if t.created {
		if err := s.blobs.Create(ctx, upload.StoragePath); err != nil {
			return fmt.Errorf("failed to create upload blob: %w", err)
		}
	}

	written, err := s.blobs.Append(ctx, upload.StoragePath, upload.Offset, io.LimitReader(req.Chunk, req.ChunkSize), req.ChunkSize)
	if err == nil && written != req.ChunkSize {
		err = NewError(KindChunkSizeMismatch, "Chunk ended after %d of %d bytes", written, req.ChunkSize)
	}
	if err != nil {
		s.discardNew(ctx, t)
		var uploadErr *Error
		if errors.As(err, &uploadErr) {
			return err
		}
		return fmt.Errorf("failed to append chunk: %w", err)
	}

	previous := upload.Offset
	upload.Offset += written
	upload.ResetChecksums()

	if err := s.save(ctx, upload, previous, t); err != nil {
		s.discardNew(ctx, t)
		return err
	}
	return nil
}

// discardNew removes the blob of an upload that was never recorded
func (s *Service) discardNew(ctx context.Context, t *target) {
	if !t.created {
		return
	}
	if err := s.blobs.Delete(ctx, t.upload.StoragePath); err != nil {
		log.Warn().Err(err).Str("path", t.upload.StoragePath).Msg("failed to remove blob of rejected upload")
	}
}

func (s *Service) save(ctx context.Context, upload *types.Upload, expectedOffset int64, t *target) error {
	created := t != nil && t.created
	if err := s.opts.Hooks.BeforeSave(ctx, upload, created); err != nil {
		return err
	}

	if created {
		if t.newGroup != nil {
			if err := s.store.CreateGroup(ctx, t.newGroup); err != nil {
				return fmt.Errorf("failed to save upload group: %w", err)
			}
		}
		if err := s.store.Create(ctx, upload); err != nil {
			return fmt.Errorf("failed to save upload: %w", err)
		}
	} else if err := s.store.Update(ctx, upload, expectedOffset); err != nil {
		return fmt.Errorf("failed to save upload: %w", err)
	}

	s.opts.Hooks.AfterSave(ctx, upload, created)
	return nil
}

// members loads and locks every upload addressed by id: the group members
// when grouping is on, otherwise the single upload.
func (s *Service) members(ctx context.Context, id string, owner *uuid.UUID) ([]*types.Upload, func(), error) {
	scope := s.scope(owner)

	if !s.opts.Grouping {
		unlock, err := s.locker.Lock(ctx, id)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to lock upload: %w", err)
		}
		upload, err := s.store.Get(ctx, id, scope)
		if err != nil {
			unlock()
			return nil, nil, s.lookupError(err, id)
		}
		return []*types.Upload{upload}, unlock, nil
	}

	group, err := s.store.GetGroup(ctx, id, scope)
	if err != nil {
		return nil, nil, s.lookupError(err, id)
	}

	// group lock first, then members in id order
	keys := []string{groupLockKey(id)}
	ids := make([]string, 0, len(group.Uploads))
	for _, member := range group.Uploads {
		ids = append(ids, member.ID)
	}
	sort.Strings(ids)
	keys = append(keys, ids...)

	var unlocks []func()
	unlockAll := func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
	for _, key := range keys {
		unlock, err := s.locker.Lock(ctx, key)
		if err != nil {
			unlockAll()
			return nil, nil, fmt.Errorf("failed to lock upload group: %w", err)
		}
		unlocks = append(unlocks, unlock)
	}

	members, err := s.store.GroupMembers(ctx, id)
	if err != nil {
		unlockAll()
		return nil, nil, fmt.Errorf("failed to load upload group: %w", err)
	}

	uploads := make([]*types.Upload, 0, len(members))
	for i := range members {
		if !containsString(ids, members[i].ID) {
			// created after the group was read and not locked; left for the next request
			continue
		}
		uploads = append(uploads, &members[i])
	}
	if len(uploads) == 0 {
		unlockAll()
		return nil, nil, NewError(KindNotFound, "No upload found for id %s", id)
	}

	return uploads, unlockAll, nil
}

func containsString(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}

func memberName(upload *types.Upload) string {
	if upload.FieldName != "" {
		return upload.FieldName
	}
	return upload.ID
}

// claimed pairs an upload with the algorithm and digest the client asserted for it
type claimed struct {
	upload    *types.Upload
	algorithm checksum.Algorithm
	digest    string
}

// CompleteUpload verifies the accumulated content and finishes the upload.
// For a group every member is verified before any is completed.
func (s *Service) CompleteUpload(ctx context.Context, req *CompleteRequest) (*Result, error) {
	if err := s.checkPermission(ctx, req.Owner); err != nil {
		return nil, err
	}
	if req.UploadID == "" {
		return nil, NewError(KindMalformedRequest, "'upload_id' is required")
	}

	uploads, unlock, err := s.members(ctx, req.UploadID, req.Owner)
	if err != nil {
		return nil, err
	}

	pending, err := s.checkCompletable(uploads)
	if err != nil {
		unlock()
		return nil, err
	}

	if s.opts.ChecksumCheck {
		if err := s.verify(ctx, pending, req.Claims); err != nil {
			unlock()
			return nil, err
		}
	}

	completedAt := s.now()
	completed := make([]*types.Upload, 0, len(pending))
	for _, upload := range pending {
		upload.Status = types.StatusComplete
		upload.CompletedAt = &completedAt
		if err := s.save(ctx, upload, upload.Offset, nil); err != nil {
			upload.Status = types.StatusUploading
			upload.CompletedAt = nil
			unlock()
			// members saved before the failure are complete and still get their callback
			s.notify(ctx, req, completed, completedAt)
			return nil, err
		}
		completed = append(completed, upload)
		log.Info().
			Str("upload_id", upload.PublicID()).
			Str("session_id", upload.ID).
			Str("filename", upload.Filename).
			Int64("size", upload.Offset).
			Msg("upload completed")
	}
	unlock()

	s.notify(ctx, req, completed, completedAt)

	return s.aggregate(uploads), nil
}

// checkCompletable returns the members still uploading
func (s *Service) checkCompletable(uploads []*types.Upload) ([]*types.Upload, error) {
	var failed []string
	var remaining []*types.Upload
	fields := make(map[string]bool, len(uploads))

	for _, upload := range uploads {
		fields[upload.FieldName] = true
		switch upload.Status {
		case types.StatusFailed:
			failed = append(failed, memberName(upload))
		case types.StatusUploading:
			remaining = append(remaining, upload)
		}
	}

	if len(failed) > 0 {
		err := NewError(KindAlreadyFailed, `Upload has already been marked as "failed"`)
		if s.opts.Grouping {
			err.Members = failed
		}
		return nil, err
	}
	if len(remaining) == 0 {
		return nil, NewError(KindAlreadyComplete, "Upload has already been marked as complete")
	}

	if s.opts.Grouping && len(s.opts.RequiredFields) > 0 {
		var missing []string
		for _, field := range s.opts.RequiredFields {
			if !fields[field] {
				missing = append(missing, field)
			}
		}
		if len(missing) > 0 {
			err := NewError(KindNotFound, "Missing uploads for fields: %s", strings.Join(missing, ", "))
			err.Members = missing
			return nil, err
		}
	}

	return remaining, nil
}

// verify checks the first supported claimed digest of every pending upload.
// Mismatching uploads are marked failed before the error is returned.
func (s *Service) verify(ctx context.Context, uploads []*types.Upload, claims map[string]string) error {
	checks := make([]claimed, 0, len(uploads))
	var missing []string

	for _, upload := range uploads {
		alg, digest, ok := s.findClaim(upload, claims)
		if !ok {
			missing = append(missing, memberName(upload))
			continue
		}
		checks = append(checks, claimed{upload: upload, algorithm: alg, digest: digest})
	}

	if len(missing) > 0 {
		if unsupported := unsupportedClaims(claims, s.opts.SupportedChecksums); len(unsupported) > 0 {
			return NewError(KindUnsupportedChecksum, "Checksum %s is not supported, use one of %s",
				strings.Join(unsupported, ", "), joinAlgorithms(s.opts.SupportedChecksums))
		}
		err := NewError(KindChecksumRequired, "Didn't find any checksum, checksum in %s is required", joinAlgorithms(s.opts.SupportedChecksums))
		if s.opts.Grouping {
			err.Members = missing
		}
		return err
	}

	var mismatched []*claimed
	for i := range checks {
		check := &checks[i]
		computed, err := s.digest(ctx, check.upload, check.algorithm)
		if err != nil {
			return err
		}
		if !checksum.Equal(check.digest, computed) {
			log.Warn().
				Str("upload_id", check.upload.PublicID()).
				Str("session_id", check.upload.ID).
				Str("algorithm", string(check.algorithm)).
				Msg("checksum mismatch")
			mismatched = append(mismatched, check)
		}
	}

	if len(mismatched) == 0 {
		return nil
	}

	names := make([]string, 0, len(mismatched))
	for _, check := range mismatched {
		check.upload.Status = types.StatusFailed
		if err := s.save(ctx, check.upload, check.upload.Offset, nil); err != nil {
			return err
		}
		names = append(names, memberName(check.upload))
	}

	first := mismatched[0]
	err := NewError(KindChecksumMismatch, "%s check does not match", first.algorithm)
	if s.opts.Grouping {
		err.Members = names
	}
	return err
}

// findClaim picks the first supported algorithm with a digest for the upload,
// preferring a field-qualified claim
func (s *Service) findClaim(upload *types.Upload, claims map[string]string) (checksum.Algorithm, string, bool) {
	for _, alg := range s.opts.SupportedChecksums {
		if upload.FieldName != "" {
			if digest, ok := claims[upload.FieldName+"."+string(alg)]; ok && digest != "" {
				return alg, digest, true
			}
		}
		if digest, ok := claims[string(alg)]; ok && digest != "" {
			return alg, digest, true
		}
	}
	return "", "", false
}

// unsupportedClaims lists claimed algorithm names that exist but are not enabled
func unsupportedClaims(claims map[string]string, supported []checksum.Algorithm) []string {
	enabled := make(map[checksum.Algorithm]bool, len(supported))
	for _, alg := range supported {
		enabled[alg] = true
	}

	var names []string
	for key := range claims {
		name := key
		if idx := strings.LastIndex(key, "."); idx >= 0 {
			name = key[idx+1:]
		}
		alg, err := checksum.Parse(name)
		if err == nil && !enabled[alg] {
			names = append(names, string(alg))
		}
	}
	sort.Strings(names)
	return names
}

func joinAlgorithms(algs []checksum.Algorithm) string {
	names := make([]string, len(algs))
	for i, alg := range algs {
		names[i] = string(alg)
	}
	return "[" + strings.Join(names, ", ") + "]"
}

// digest returns the memoized digest or computes it over the recorded bytes
func (s *Service) digest(ctx context.Context, upload *types.Upload, alg checksum.Algorithm) (string, error) {
	if cached, ok := upload.CachedChecksum(string(alg)); ok {
		return cached, nil
	}

	reader, err := s.blobs.Retrieve(ctx, upload.StoragePath)
	if err != nil {
		return "", fmt.Errorf("failed to read upload content: %w", err)
	}
	defer reader.Close()

	computed, err := checksum.Compute(alg, io.LimitReader(reader, upload.Offset))
	if err != nil {
		if errors.Is(err, checksum.ErrUnsupported) {
			return "", NewError(KindUnsupportedChecksum, "Checksum %s is not supported", alg)
		}
		return "", err
	}

	upload.CacheChecksum(string(alg), computed)
	return computed, nil
}

func (s *Service) uploadedFile(upload *types.Upload) *UploadedFile {
	storagePath := upload.StoragePath
	size := upload.Offset
	return NewUploadedFile(upload, func(ctx context.Context) (io.ReadCloser, error) {
		reader, err := s.blobs.Retrieve(ctx, storagePath)
		if err != nil {
			return nil, err
		}
		return limitedReadCloser{Reader: io.LimitReader(reader, size), Closer: reader}, nil
	})
}

type limitedReadCloser struct {
	io.Reader
	io.Closer
}

// notify hands each completed upload to the completion handler. Handler
// failures are logged; the uploads stay complete.
func (s *Service) notify(ctx context.Context, req *CompleteRequest, uploads []*types.Upload, completedAt time.Time) {
	if s.opts.OnCompletion == nil || len(uploads) == 0 {
		return
	}

	files := make([]*UploadedFile, len(uploads))
	for i, upload := range uploads {
		files[i] = s.uploadedFile(upload)
	}
	cc := &CompletionContext{
		UploadID:    req.UploadID,
		Owner:       req.Owner,
		CompletedAt: completedAt,
		Files:       files,
	}

	for _, file := range files {
		if err := s.opts.OnCompletion.OnCompletion(ctx, file, cc); err != nil {
			log.Error().
				Err(err).
				Str("upload_id", req.UploadID).
				Str("session_id", file.UploadID).
				Msg("completion handler failed")
		}
	}
}

// aggregate summarizes one upload or a whole group
func (s *Service) aggregate(uploads []*types.Upload) *Result {
	if len(uploads) == 1 {
		return s.result(uploads[0])
	}

	res := s.result(uploads[0])
	res.Offset = 0
	for _, upload := range uploads {
		res.Offset += upload.Offset
		if upload.CreatedAt.Before(uploads[0].CreatedAt) {
			res.ExpiresAt = upload.ExpiresAt(s.opts.ExpirationDelta)
		}
		if upload.Status != res.Status {
			res.Status = types.StatusUploading
		}
	}
	return res
}

// ResumeLookup finds the most recent finished or resumable upload of a whole-file checksum.
// It returns nil when nothing matches.
func (s *Service) ResumeLookup(ctx context.Context, owner *uuid.UUID, contentChecksum string) (*Result, error) {
	if err := s.checkPermission(ctx, owner); err != nil {
		return nil, err
	}
	if contentChecksum == "" {
		return nil, NewError(KindMalformedRequest, "'checksum' is required")
	}

	notBefore := s.now().Add(-s.opts.ExpirationDelta)
	upload, err := s.store.FindByChecksum(ctx, contentChecksum, s.scope(owner), notBefore)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to look up upload: %w", err)
	}
	return s.result(upload), nil
}

// Status returns the uploads addressed by id without locking them
func (s *Service) Status(ctx context.Context, owner *uuid.UUID, id string) ([]types.Upload, error) {
	if err := s.checkPermission(ctx, owner); err != nil {
		return nil, err
	}

	scope := s.scope(owner)
	if s.opts.Grouping {
		group, err := s.store.GetGroup(ctx, id, scope)
		if err != nil {
			return nil, s.lookupError(err, id)
		}
		return group.Uploads, nil
	}

	upload, err := s.store.Get(ctx, id, scope)
	if err != nil {
		return nil, s.lookupError(err, id)
	}
	return []types.Upload{*upload}, nil
}

// Delete cancels an upload: each blob is removed before its record
func (s *Service) Delete(ctx context.Context, owner *uuid.UUID, id string) error {
	if err := s.checkPermission(ctx, owner); err != nil {
		return err
	}

	uploads, unlock, err := s.members(ctx, id, owner)
	if err != nil {
		return err
	}
	defer unlock()

	for _, upload := range uploads {
		if err := Remove(ctx, s.store, s.blobs, upload); err != nil {
			return err
		}
	}

	log.Info().Str("upload_id", id).Int("sessions", len(uploads)).Msg("upload deleted")
	return nil
}

// List returns a page of uploads for administration
func (s *Service) List(ctx context.Context, filter *types.UploadFilter) ([]types.Upload, int64, error) {
	return s.store.List(ctx, filter)
}

// ExpirationDelta is how long uploads accept chunks after creation
func (s *Service) ExpirationDelta() time.Duration {
	return s.opts.ExpirationDelta
}

// Remove deletes an upload's blob and then its record. A missing blob is not
// an error; a failed blob delete leaves the record in place.
func Remove(ctx context.Context, store session.Store, blobs storage.BlobStorage, upload *types.Upload) error {
	if err := blobs.Delete(ctx, upload.StoragePath); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("failed to delete blob of upload %s: %w", upload.ID, err)
	}
	if err := store.Delete(ctx, upload.ID); err != nil && !errors.Is(err, session.ErrNotFound) {
		return fmt.Errorf("failed to delete upload %s: %w", upload.ID, err)
	}
	return nil
}
