package controlsocket

import (
	"github.com/shepherdjerred/clauderon/internal/backend"
	"github.com/shepherdjerred/clauderon/internal/session"
	"github.com/shepherdjerred/clauderon/internal/store"
	"github.com/shepherdjerred/clauderon/internal/util/timefmt"
)

// ToCreateOptions builds a session.CreateOptions from a wire Request,
// shared by the control socket's CreateSession dispatch and the HTTP
// surface's POST /sessions handler so the two external interfaces stay
// in lockstep on which fields are reachable.
func ToCreateOptions(req Request) session.CreateOptions {
	opts := session.CreateOptions{
		Name:                 req.Name,
		RepoPath:             req.RepoPath,
		Subdirectory:         req.Subdirectory,
		BranchName:           req.BranchName,
		StartPoint:           req.StartPoint,
		Backend:              store.Backend(req.Backend),
		Agent:                store.Agent(req.Agent),
		Model:                req.Model,
		PrintMode:            req.PrintMode,
		PlanMode:             req.PlanMode,
		InitialPrompt:        req.InitialPrompt,
		AccessMode:           store.AccessMode(req.AccessMode),
		Images:               req.Images,
		DangerousSkipChecks:  req.DangerousSkipChecks,
		DangerousCopyCreds:   req.DangerousCopyCreds,
		ContainerImage:       req.ContainerImage,
		StorageClassOverride: req.StorageClassOverride,
		VolumeMode:           backend.VolumeMode(req.VolumeMode),
		HTTPPort:             req.HTTPPort,
		PullPolicy:           backend.ImagePullPolicy(req.PullPolicy),
		AutoDestroy:          req.AutoDestroy,
	}
	if req.ContainerResources != nil {
		opts.ContainerResources = &backend.ContainerResources{
			CPUMillis: req.ContainerResources.CPUMillis,
			MemoryMB:  req.ContainerResources.MemoryMB,
		}
	}
	for _, r := range req.Repositories {
		opts.Repositories = append(opts.Repositories, backend.Repository{
			CanonicalPath: r.CanonicalPath,
			MountName:     r.MountName,
			Branch:        r.Branch,
			IsPrimary:     r.IsPrimary,
		})
	}
	return opts
}

// ToSessionDTO converts a store Session into its wire representation.
// Exported so the HTTP surface's REST mirror can reuse the same
// conversion instead of duplicating it.
func ToSessionDTO(s *store.Session) *SessionDTO {
	if s == nil {
		return nil
	}
	return &SessionDTO{
		ID:                   s.ID,
		Name:                 s.Name,
		Status:               string(s.Status),
		Backend:              string(s.Backend),
		Agent:                string(s.Agent),
		Model:                s.Model,
		RepoPath:             s.RepoPath,
		WorktreePath:         s.WorktreePath,
		Subdirectory:         s.Subdirectory,
		BranchName:           s.BranchName,
		BackendID:            s.BackendID,
		AccessMode:           string(s.AccessMode),
		ProxyPort:            s.ProxyPort,
		PRURL:                s.PRURL,
		PRCheckStatus:        s.PRCheckStatus,
		PRReviewStatus:       s.PRReviewStatus,
		MergeStatus:          s.MergeStatus,
		ClaudeStatus:         string(s.ClaudeStatus),
		WorktreeDirty:        s.WorktreeDirty,
		WorktreeChangedFiles: s.WorktreeChangedFiles,
		MergeConflict:        s.MergeConflict,
		CreatedAt:            timefmt.Format(s.CreatedAt),
		UpdatedAt:            timefmt.Format(s.UpdatedAt),
	}
}

// ToSessionDTOs converts a slice of store Sessions.
func ToSessionDTOs(sessions []*store.Session) []SessionDTO {
	out := make([]SessionDTO, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, *ToSessionDTO(s))
	}
	return out
}

// ToRecentRepoDTOs converts a slice of store RecentRepo rows.
func ToRecentRepoDTOs(repos []store.RecentRepo) []RecentRepoDTO {
	out := make([]RecentRepoDTO, 0, len(repos))
	for _, r := range repos {
		out = append(out, RecentRepoDTO{
			RepoPath:     r.CanonicalRepoPath,
			Subdirectory: r.Subdirectory,
			LastUsedAt:   timefmt.Format(r.LastUsedAt),
		})
	}
	return out
}
