package exposure

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"github.com/prometheus/procfs"
)

// ProcessInfo identifies the owner of a socket.
type ProcessInfo struct {
	PID     int
	Name    string
	Command string
}

// ProcessResolver maps socket inodes to owning processes.
type ProcessResolver interface {
	SocketOwners(ctx context.Context) (map[uint64]ProcessInfo, error)
}

// ProcfsResolver walks /proc/<pid>/fd for socket links. Processes whose fd
// directory is unreadable (other users, without privileges) are skipped.
type ProcfsResolver struct {
	fs procfs.FS
}

// NewProcfsResolver opens the proc filesystem at mount.
func NewProcfsResolver(mount string) (*ProcfsResolver, error) {
	if mount == "" {
		mount = procfs.DefaultMountPoint
	}
	fs, err := procfs.NewFS(mount)
	if err != nil {
		return nil, err
	}
	return &ProcfsResolver{fs: fs}, nil
}

// SocketOwners implements ProcessResolver. When several processes share a
// socket the lowest pid wins, which is normally the parent.
func (r *ProcfsResolver) SocketOwners(ctx context.Context) (map[uint64]ProcessInfo, error) {
	procs, err := r.fs.AllProcs()
	if err != nil {
		return nil, err
	}
	sort.Sort(procs)

	owners := make(map[uint64]ProcessInfo)
	for _, p := range procs {
		if err := ctx.Err(); err != nil {
			return owners, err
		}
		targets, err := p.FileDescriptorTargets()
		if err != nil {
			continue
		}
		var info *ProcessInfo
		for _, t := range targets {
			inode, ok := socketInode(t)
			if !ok {
				continue
			}
			if _, taken := owners[inode]; taken {
				continue
			}
			if info == nil {
				info = describe(p)
			}
			owners[inode] = *info
		}
	}
	return owners, nil
}

func describe(p procfs.Proc) *ProcessInfo {
	info := &ProcessInfo{PID: p.PID}
	if comm, err := p.Comm(); err == nil {
		info.Name = comm
	}
	if args, err := p.CmdLine(); err == nil && len(args) > 0 {
		info.Command = strings.Join(args, " ")
		if info.Name == "" {
			info.Name = args[0]
		}
	}
	return info
}

// socketInode parses "socket:[12345]".
func socketInode(target string) (uint64, bool) {
	rest, ok := strings.CutPrefix(target, "socket:[")
	if !ok {
		return 0, false
	}
	rest, ok = strings.CutSuffix(rest, "]")
	if !ok {
		return 0, false
	}
	inode, err := strconv.ParseUint(rest, 10, 64)
	if err != nil {
		return 0, false
	}
	return inode, true
}
