// Package referenceframe resolves rigid transforms between named coordinate frames.
package referenceframe

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"

	"go.viam.com/posetracker/spatialmath"
	"go.viam.com/posetracker/utils"
)

// World is the string "world", but made into an exported constant.
const World = "world"

// TransformLookup resolves the pose of the child frame expressed in the parent frame, as of the given
// time. The returned pose maps child coordinates into parent coordinates. Implementations return an
// error wrapping ErrFrameNotFound when either frame or the path between them is unknown.
type TransformLookup interface {
	LookupTransform(ctx context.Context, parent, child string, at time.Time) (spatialmath.Pose, error)
}

// TransformLookupFunc adapts a function to a TransformLookup.
type TransformLookupFunc func(ctx context.Context, parent, child string, at time.Time) (spatialmath.Pose, error)

// LookupTransform calls f.
func (f TransformLookupFunc) LookupTransform(ctx context.Context, parent, child string, at time.Time) (spatialmath.Pose, error) {
	return f(ctx, parent, child, at)
}

type link struct {
	parent string
	pose   spatialmath.Pose
}

// StaticFrameSystem is a tree of frames whose relative poses never change. It is rooted at World and
// is safe for concurrent use.
type StaticFrameSystem struct {
	mu     sync.RWMutex
	frames map[string]link
}

// NewEmptyStaticFrameSystem returns a frame system holding only the world frame.
func NewEmptyStaticFrameSystem() *StaticFrameSystem {
	return &StaticFrameSystem{frames: map[string]link{}}
}

// NewStaticFrameSystem builds a frame system from links given in any order. Every link must
// eventually attach to World.
func NewStaticFrameSystem(links []LinkConfig) (*StaticFrameSystem, error) {
	fs := NewEmptyStaticFrameSystem()
	pending := make([]LinkConfig, len(links))
	copy(pending, links)
	for len(pending) > 0 {
		var next []LinkConfig
		for _, l := range pending {
			if !fs.frameExists(l.Parent) {
				next = append(next, l)
				continue
			}
			pose, err := l.ParseConfig()
			if err != nil {
				return nil, err
			}
			if err := fs.AddFrame(l.Child, l.Parent, pose); err != nil {
				return nil, err
			}
		}
		if len(next) == len(pending) {
			return nil, NewParentFrameMissingError(next[0].Child, next[0].Parent)
		}
		pending = next
	}
	return fs, nil
}

func (sfs *StaticFrameSystem) frameExists(name string) bool {
	sfs.mu.RLock()
	defer sfs.mu.RUnlock()
	return sfs.frameExistsLocked(name)
}

func (sfs *StaticFrameSystem) frameExistsLocked(name string) bool {
	if name == World {
		return true
	}
	_, ok := sfs.frames[name]
	return ok
}

// AddFrame places a new frame at pose relative to an existing parent frame.
func (sfs *StaticFrameSystem) AddFrame(name, parent string, pose spatialmath.Pose) error {
	if name == "" {
		return errors.New("frame name cannot be empty")
	}
	if pose == nil {
		return errors.Errorf("frame %q has no pose", name)
	}
	sfs.mu.Lock()
	defer sfs.mu.Unlock()
	if sfs.frameExistsLocked(name) {
		return NewFrameAlreadyExistsError(name)
	}
	if !sfs.frameExistsLocked(parent) {
		return NewParentFrameMissingError(name, parent)
	}
	sfs.frames[name] = link{parent: parent, pose: pose}
	return nil
}

// FrameNames returns the names of all frames besides World, sorted.
func (sfs *StaticFrameSystem) FrameNames() []string {
	sfs.mu.RLock()
	defer sfs.mu.RUnlock()
	names := make([]string, 0, len(sfs.frames))
	for name := range sfs.frames {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Parent returns the name of the parent of the given frame.
func (sfs *StaticFrameSystem) Parent(name string) (string, error) {
	sfs.mu.RLock()
	defer sfs.mu.RUnlock()
	l, ok := sfs.frames[name]
	if !ok {
		return "", NewFrameMissingError(name)
	}
	return l.parent, nil
}

// TracebackFrame traces the parentage of the given frame up to World, and returns the full list of
// frame names in between, starting with the query frame and ending with World.
func (sfs *StaticFrameSystem) TracebackFrame(name string) ([]string, error) {
	sfs.mu.RLock()
	defer sfs.mu.RUnlock()
	trace := []string{name}
	for name != World {
		l, ok := sfs.frames[name]
		if !ok {
			return nil, NewFrameMissingError(name)
		}
		name = l.parent
		trace = append(trace, name)
	}
	return trace, nil
}

// PoseInWorld returns the pose of the named frame expressed in World.
func (sfs *StaticFrameSystem) PoseInWorld(name string) (spatialmath.Pose, error) {
	sfs.mu.RLock()
	defer sfs.mu.RUnlock()
	pose := spatialmath.NewZeroPose()
	for name != World {
		l, ok := sfs.frames[name]
		if !ok {
			return nil, NewFrameMissingError(name)
		}
		pose = spatialmath.Compose(l.pose, pose)
		name = l.parent
	}
	return pose, nil
}

// LookupTransform returns the pose of child expressed in parent. Static frames ignore the time.
func (sfs *StaticFrameSystem) LookupTransform(ctx context.Context, parent, child string, at time.Time) (spatialmath.Pose, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	parentInWorld, err := sfs.PoseInWorld(parent)
	if err != nil {
		return nil, errors.Wrapf(err, "no path from frame %q to frame %q", child, parent)
	}
	childInWorld, err := sfs.PoseInWorld(child)
	if err != nil {
		return nil, errors.Wrapf(err, "no path from frame %q to frame %q", child, parent)
	}
	return spatialmath.PoseBetween(parentInWorld, childInWorld), nil
}

// String prints out a table of each frame in the system, with columns of name, parent, translation and orientation.
func (sfs *StaticFrameSystem) String() string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"#", "Name", "Parent", "Translation", "Orientation"})
	t.AppendRow(table.Row{"0", World, "", "", ""})
	for i, name := range sfs.FrameNames() {
		sfs.mu.RLock()
		l := sfs.frames[name]
		sfs.mu.RUnlock()
		tra := l.pose.Point()
		ori := l.pose.Orientation().EulerAngles()
		t.AppendRow(table.Row{
			fmt.Sprintf("%d", i+1),
			name,
			l.parent,
			fmt.Sprintf("X:%.3f, Y:%.3f, Z:%.3f", tra.X, tra.Y, tra.Z),
			fmt.Sprintf(
				"Roll:%.2f, Pitch:%.2f, Yaw:%.2f",
				utils.RadToDeg(ori.Roll),
				utils.RadToDeg(ori.Pitch),
				utils.RadToDeg(ori.Yaw),
			),
		})
	}
	return t.Render()
}
