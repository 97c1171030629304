package executors

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/hostvault/hostvault/pkg/resolve"
	"github.com/hostvault/hostvault/pkg/secrets"
)

// FileExecutor backs up and restores files between the host and a vault
// directory. Entries flagged encrypt are sealed with the configured
// protector before they land in the vault.
type FileExecutor struct {
	vaultDir  string
	protector *secrets.Protector
	logger    zerolog.Logger
}

// NewFileExecutor creates a file executor rooted at vaultDir. The
// protector may be nil, in which case encrypt-flagged entries fail.
func NewFileExecutor(vaultDir string, protector *secrets.Protector, logger zerolog.Logger) *FileExecutor {
	return &FileExecutor{
		vaultDir:  vaultDir,
		protector: protector,
		logger:    logger.With().Str("component", "file-executor").Logger(),
	}
}

// Name identifies the executor.
func (fe *FileExecutor) Name() string { return "file" }

// Execute backs up or restores one file entry.
func (fe *FileExecutor) Execute(_ context.Context, section string, entry *resolve.Entry, op Operation, dryRun bool) (*Result, error) {
	file, err := DecodeFileEntry(entry)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Executor: fe.Name(),
		Section:  section,
		Entry:    entry.Key(),
		Action:   file.Action,
	}

	// sync entries run in both directions; backup/restore entries only in
	// their own
	if file.Action != "sync" && file.Action != string(op) {
		result.Status = StatusSkipped
		result.Detail = fmt.Sprintf("entry action %s does not cover %s", file.Action, op)
		return result, nil
	}
	if file.Encrypt && fe.protector == nil {
		return nil, fmt.Errorf("entry %q requires encryption but no protector is configured", entry.Key())
	}

	src, dst := fe.endpoints(file, op)
	if dryRun {
		result.Status = StatusPlanned
		result.Detail = fmt.Sprintf("%s %s -> %s", op, src, dst)
		fe.logger.Info().
			Str("entry", entry.Key()).
			Str("source", src).
			Str("destination", dst).
			Bool("encrypt", file.Encrypt).
			Msgf("Would %s file", op)
		return result, nil
	}

	if file.Type == "directory" {
		err = fe.transferDir(src, dst, file.Encrypt, op)
	} else {
		err = fe.transfer(src, dst, file.Encrypt, op)
	}
	if err != nil {
		return nil, err
	}

	result.Status = StatusApplied
	result.Detail = dst
	fe.logger.Debug().
		Str("entry", entry.Key()).
		Str("source", src).
		Str("destination", dst).
		Msgf("File %s complete", op)
	return result, nil
}

// endpoints computes source and destination paths for an operation. The
// vault-side path is the entry destination when set, else the key.
func (fe *FileExecutor) endpoints(file *FileEntry, op Operation) (src, dst string) {
	vaultName := file.Destination
	if vaultName == "" {
		vaultName = file.Name
	}
	if vaultName == "" {
		vaultName = filepath.Base(file.Path)
	}
	vaultPath := filepath.Join(fe.vaultDir, vaultName)

	hostPath := file.Path
	if op == OperationRestore && file.DynamicStatePath != "" {
		hostPath = file.DynamicStatePath
	}

	if op == OperationBackup {
		return hostPath, vaultPath
	}
	return vaultPath, hostPath
}

// transfer copies src to dst, sealing on backup and opening on restore
// when the entry is encrypted.
func (fe *FileExecutor) transfer(src, dst string, encrypt bool, op Operation) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", src, err)
	}

	if encrypt {
		switch op {
		case OperationBackup:
			if data, err = fe.protector.Protect(data); err != nil {
				return fmt.Errorf("failed to protect %s: %w", src, err)
			}
		case OperationRestore:
			if data, err = fe.protector.Unprotect(data); err != nil {
				return fmt.Errorf("failed to unprotect %s: %w", src, err)
			}
		}
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", dst, err)
	}
	if err := os.WriteFile(dst, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", dst, err)
	}
	return nil
}

// transferDir copies every regular file under src to the corresponding
// path under dst.
func (fe *FileExecutor) transferDir(src, dst string, encrypt bool, op Operation) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		return fe.transfer(path, filepath.Join(dst, rel), encrypt, op)
	})
}
