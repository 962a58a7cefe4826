package session

import (
	"github.com/rs/zerolog/log"
)

// PendingUpload is a staged file waiting for submit or recall
type PendingUpload struct {
	ID       string
	FileName string
	MimeType string
	Data     []byte
}

// BeginUpload takes the per-session upload lock
func (r *Registry) BeginUpload(nickname string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[nickname]
	if !ok {
		return ErrUnknownNickname
	}
	if s.uploadLock {
		return ErrBusy
	}
	s.uploadLock = true
	return nil
}

// ReleaseUploadLock always clears the lock, even for a vanished session
func (r *Registry) ReleaseUploadLock(nickname string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[nickname]; ok {
		s.uploadLock = false
	}
}

// StageUpload buffers an upload under its id; oversized data is discarded
func (r *Registry) StageUpload(nickname string, upload *PendingUpload) error {
	if int64(len(upload.Data)) > r.config.MaxUploadBytes {
		return ErrTooLarge
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[nickname]
	if !ok {
		return ErrUnknownNickname
	}
	s.pending[upload.ID] = upload

	log.Debug().Str("nick", nickname).Str("upload_id", upload.ID).Int("bytes", len(upload.Data)).Msg("upload staged")
	return nil
}

// TakePending removes and returns a staged upload owned by nickname
func (r *Registry) TakePending(nickname, id string) (*PendingUpload, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[nickname]
	if !ok {
		return nil, ErrUnknownNickname
	}
	upload, ok := s.pending[id]
	if !ok {
		return nil, ErrUnknownUpload
	}
	delete(s.pending, id)
	return upload, nil
}

// WithUpload runs fn while holding the upload lock and releases it on every path
func (r *Registry) WithUpload(nickname string, fn func() error) error {
	if err := r.BeginUpload(nickname); err != nil {
		return err
	}
	defer r.ReleaseUploadLock(nickname)
	return fn()
}
