// Package task runs named build tasks in dependency order.
//
// A task runs at most once per Run. DependsOn tasks run before it; FinalizedBy
// tasks run right after it, and only when it succeeded. A finalizer that is
// not otherwise required by the targets is skipped when its task did not
// succeed.
package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	ErrDuplicate   = errors.New("task already registered")
	ErrUnknownTask = errors.New("unknown task")
	ErrCycle       = errors.New("task dependency cycle")
)

// Action is the work a task performs.
type Action func(ctx context.Context) error

// Task is a unit of build work.
type Task struct {
	Name        string
	Description string
	DependsOn   []string
	// OnlyIf skips the task when it returns false.
	OnlyIf func() bool
	// Action may be nil for lifecycle tasks that only aggregate dependencies.
	Action Action
}

type EventKind int

const (
	Started EventKind = iota
	Succeeded
	Failed
	Skipped
)

func (k EventKind) String() string {
	switch k {
	case Started:
		return "started"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case Skipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Event reports a task state change.
type Event struct {
	Task     string
	Kind     EventKind
	Err      error
	Duration time.Duration
}

// Graph holds registered tasks and their relations.
type Graph struct {
	mu         sync.Mutex
	tasks      map[string]Task
	finalizers map[string][]string
	subs       []func(Event)
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{
		tasks:      make(map[string]Task),
		finalizers: make(map[string][]string),
	}
}

// Register adds a task.
func (g *Graph) Register(t Task) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("%w: empty name", ErrUnknownTask)
	}
	if _, ok := g.tasks[t.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, t.Name)
	}
	g.tasks[t.Name] = t
	return nil
}

// FinalizedBy schedules finalizers to run right after name succeeds.
// Finalizers run in the order given.
func (g *Graph) FinalizedBy(name string, finalizers ...string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, n := range append([]string{name}, finalizers...) {
		if _, ok := g.tasks[n]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownTask, n)
		}
	}
	g.finalizers[name] = append(g.finalizers[name], finalizers...)
	return nil
}

// Subscribe registers fn to receive every event. Events are delivered
// synchronously from the goroutine calling Run.
func (g *Graph) Subscribe(fn func(Event)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.subs = append(g.subs, fn)
}

// Tasks returns the registered tasks sorted by name.
func (g *Graph) Tasks() []Task {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]Task, 0, len(g.tasks))
	for _, t := range g.tasks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Step is one entry of an execution plan.
type Step struct {
	Name string
	// Finalizes lists the finalized tasks whose success schedules this step,
	// for finalizers and for the dependencies they pull in.
	Finalizes []string
	// Required is false when the step only runs as a finalizer.
	Required bool
}

// Plan returns the execution order for targets.
func (g *Graph) Plan(targets ...string) ([]Step, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	p := planner{
		g:         g,
		state:     make(map[string]int),
		finalizes: make(map[string][]string),
		required:  make(map[string]bool),
	}
	for _, t := range targets {
		if err := p.visit(t, true, nil, nil); err != nil {
			return nil, err
		}
	}

	steps := make([]Step, len(p.order))
	for i, name := range p.order {
		steps[i] = Step{Name: name, Finalizes: p.finalizes[name], Required: p.required[name]}
	}
	return steps, nil
}

const (
	unvisited = iota
	visiting
	done
)

type planner struct {
	g         *Graph
	order     []string
	state     map[string]int
	finalizes map[string][]string
	required  map[string]bool
}

// visit plans name after its dependencies. Steps planned without required
// run only when one of the finalized tasks in cause succeeds.
func (p *planner) visit(name string, required bool, cause, path []string) error {
	if _, ok := p.g.tasks[name]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}
	if required {
		p.markRequired(name)
	} else {
		p.addCause(name, cause)
	}

	switch p.state[name] {
	case done:
		return nil
	case visiting:
		return fmt.Errorf("%w: %s", ErrCycle, strings.Join(append(path, name), " -> "))
	}

	p.state[name] = visiting
	path = append(path, name)
	for _, dep := range p.g.tasks[name].DependsOn {
		if err := p.visit(dep, required, cause, path); err != nil {
			return err
		}
	}
	p.state[name] = done
	p.order = append(p.order, name)

	for _, f := range p.g.finalizers[name] {
		if err := p.visit(f, false, []string{name}, path); err != nil {
			return err
		}
	}
	return nil
}

func (p *planner) addCause(name string, cause []string) {
	for _, c := range cause {
		if !slices.Contains(p.finalizes[name], c) {
			p.finalizes[name] = append(p.finalizes[name], c)
		}
	}
}

// markRequired propagates required to a task already planned as a finalizer.
func (p *planner) markRequired(name string) {
	if p.required[name] {
		return
	}
	p.required[name] = true
	if p.state[name] == done {
		for _, dep := range p.g.tasks[name].DependsOn {
			p.markRequired(dep)
		}
	}
}

// Run executes targets and their dependencies, stopping at the first failure.
func (g *Graph) Run(ctx context.Context, targets ...string) error {
	steps, err := g.Plan(targets...)
	if err != nil {
		return err
	}

	g.mu.Lock()
	subs := append([]func(Event){}, g.subs...)
	tasks := make(map[string]Task, len(g.tasks))
	for k, v := range g.tasks {
		tasks[k] = v
	}
	g.mu.Unlock()

	emit := func(e Event) {
		for _, fn := range subs {
			fn(e)
		}
	}

	succeeded := make(map[string]bool)
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}

		t := tasks[step.Name]
		if !step.Required && !anySucceeded(succeeded, step.Finalizes) {
			slog.Debug("skipping finalizer", "task", t.Name, "finalizes", step.Finalizes)
			emit(Event{Task: t.Name, Kind: Skipped})
			continue
		}
		if t.OnlyIf != nil && !t.OnlyIf() {
			slog.Debug("skipping task", "task", t.Name)
			emit(Event{Task: t.Name, Kind: Skipped})
			continue
		}

		emit(Event{Task: t.Name, Kind: Started})
		start := time.Now()
		var runErr error
		if t.Action != nil {
			runErr = t.Action(ctx)
		}
		elapsed := time.Since(start)

		if runErr != nil {
			emit(Event{Task: t.Name, Kind: Failed, Err: runErr, Duration: elapsed})
			return fmt.Errorf("task %s failed: %w", t.Name, runErr)
		}
		succeeded[t.Name] = true
		emit(Event{Task: t.Name, Kind: Succeeded, Duration: elapsed})
	}
	return nil
}

func anySucceeded(succeeded map[string]bool, names []string) bool {
	for _, n := range names {
		if succeeded[n] {
			return true
		}
	}
	return false
}
