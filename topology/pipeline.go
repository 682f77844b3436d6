// Package topology wires roles into a directed acyclic graph along the
// streams they exchange and drives their controllers in dependency order.
package topology

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/dominikbraun/graph"
	"github.com/dominikbraun/graph/draw"
	"github.com/hashicorp/go-multierror"
	"github.com/samber/lo"

	stage "github.com/Ethan-cw/HighPerformanceComputing"
)

// Stream labels of the default deployment.
const (
	StreamTasks           = "tasks"
	StreamResults         = "results"
	StreamGeneratorStatus = "gen-status"
	StreamExecutorStatus  = "exe-status"
	StreamValidatorStatus = "val-status"
)

// RoleVertex defines a role in the pipeline DAG. Outputs name the streams
// the role produces; Inputs name the streams it consumes. Every stream has
// exactly one producer.
type RoleVertex struct {
	Label   string
	Inputs  []string
	Outputs []string
}

// Default is the generator, executor, validator and monitor deployment.
func Default() []RoleVertex {
	return []RoleVertex{
		{Label: "generator", Outputs: []string{StreamTasks, StreamGeneratorStatus}},
		{Label: "executor", Inputs: []string{StreamTasks}, Outputs: []string{StreamResults, StreamExecutorStatus}},
		{Label: "validator", Inputs: []string{StreamResults}, Outputs: []string{StreamValidatorStatus}},
		{Label: "monitor", Inputs: []string{StreamGeneratorStatus, StreamExecutorStatus, StreamValidatorStatus}},
	}
}

type roleVertex struct {
	label   string
	inputs  []string
	outputs []string

	role       stage.Role
	opts       []stage.Option
	controller *stage.Controller
}

func roleVertexHash(v *roleVertex) string {
	return v.label
}

// Pipeline holds one controller per role vertex.
type Pipeline struct {
	graph graph.Graph[string, *roleVertex]

	logger *slog.Logger

	doneOnce sync.Once
	doneCh   chan struct{}
}

// NewPipeline validates the vertices and connects every consumer to the
// producer of each of its input streams.
func NewPipeline(vertices []RoleVertex, logger *slog.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = slog.Default()
	}

	g := graph.New(roleVertexHash, graph.Directed(), graph.Acyclic(), graph.PreventCycles())

	producers := make(map[string]string)
	for _, vertex := range vertices {
		if err := g.AddVertex(&roleVertex{
			label:   vertex.Label,
			inputs:  vertex.Inputs,
			outputs: vertex.Outputs,
		},
			graph.VertexAttribute("shape", "box"),
			graph.VertexAttribute("style", "rounded"),
		); err != nil {
			return nil, fmt.Errorf("vertex %s: %w", vertex.Label, err)
		}
		for _, output := range vertex.Outputs {
			if _, present := producers[output]; present {
				return nil, fmt.Errorf("stream %s already produced by %s", output, producers[output])
			}
			producers[output] = vertex.Label
		}
	}

	for _, vertex := range vertices {
		for _, input := range vertex.Inputs {
			producer, present := producers[input]
			if !present {
				return nil, fmt.Errorf("stream %s consumed by %s has no producer", input, vertex.Label)
			}
			if err := g.AddEdge(producer, vertex.Label, graph.EdgeAttribute("label", input)); err != nil {
				if errors.Is(err, graph.ErrEdgeAlreadyExists) {
					continue
				}
				return nil, fmt.Errorf("stream %s from %s to %s: %w", input, producer, vertex.Label, err)
			}
		}
	}

	return &Pipeline{
		graph:  g,
		logger: logger,
		doneCh: make(chan struct{}),
	}, nil
}

// AddRole binds role to the vertex labelled label.
func (ppl *Pipeline) AddRole(label string, role stage.Role, opts ...stage.Option) error {
	rv, err := ppl.graph.Vertex(label)
	if err != nil {
		if errors.Is(err, graph.ErrVertexNotFound) {
			return fmt.Errorf("role cannot be added: vertex %s not found", label)
		}
		return fmt.Errorf("role cannot be added to vertex %s: %w", label, err)
	}
	if rv.role != nil {
		return fmt.Errorf("vertex %s already has a role", label)
	}

	rv.role = role
	rv.opts = append([]stage.Option{
		stage.WithLogger(ppl.logger),
		stage.WithLabel(label),
	}, opts...)
	return nil
}

// Order lists the vertices consumers first: every role comes before the
// producers feeding it.
func (ppl *Pipeline) Order() ([]string, error) {
	sorted, err := graph.StableTopologicalSort(ppl.graph, func(a, b string) bool {
		return strings.Compare(a, b) < 0
	})
	if err != nil {
		return nil, err
	}
	return lo.Reverse(sorted), nil
}

// Initialize runs every role's Init consumers first, so a listener is bound
// before the role dialing it is initialized. On failure every role already
// initialized is stopped.
func (ppl *Pipeline) Initialize() error {
	order, err := ppl.Order()
	if err != nil {
		return fmt.Errorf("failed to initialize pipeline: %w", err)
	}

	for _, vertex := range order {
		rv, err := ppl.graph.Vertex(vertex)
		if err != nil {
			return fmt.Errorf("failed to initialize pipeline: %w", err)
		}
		if rv.role == nil {
			return fmt.Errorf("failed to initialize pipeline: vertex %s has not been added with a role", vertex)
		}
	}

	for _, vertex := range order {
		rv, _ := ppl.graph.Vertex(vertex)

		controller, err := stage.Initialize(rv.role, rv.opts...)
		if err != nil {
			_ = ppl.stopAllControllers()
			return fmt.Errorf("failed to initialize role %s: %w", vertex, err)
		}
		rv.controller = controller
	}

	return nil
}

// stopAllControllers stops every controller consumers first. A producer
// whose consumers were stopped before it may fail its last send; that
// failure is logged and not returned. A role that had already terminated
// when the stop began reports its error as usual.
func (ppl *Pipeline) stopAllControllers() error {
	order, err := ppl.Order()
	if err != nil {
		return err
	}
	adjacency, err := ppl.graph.AdjacencyMap()
	if err != nil {
		return err
	}

	terminated := make(map[string]bool)
	for _, vertex := range order {
		rv, err := ppl.graph.Vertex(vertex)
		if err != nil {
			return err
		}
		if rv.controller != nil && isDone(rv.controller) {
			terminated[vertex] = true
		}
	}

	var multierr error
	for _, vertex := range order {
		rv, _ := ppl.graph.Vertex(vertex)
		if rv.controller == nil {
			continue
		}
		err := rv.controller.Stop()
		if err == nil || errors.Is(err, stage.ErrMultipleStop) {
			continue
		}
		if !terminated[vertex] && len(adjacency[vertex]) > 0 {
			ppl.logger.With("error", err).With("vertex", vertex).Info("role failed after its consumers stopped")
			continue
		}
		ppl.logger.With("error", err).With("vertex", vertex).Error("failed to stop controller, continuing...")
		multierr = multierror.Append(multierr, fmt.Errorf("%s: %w", vertex, err))
	}
	return multierr
}

func isDone(c *stage.Controller) bool {
	select {
	case <-c.Done():
		return true
	default:
		return false
	}
}

// Start launches every role, consumers first, and stops them all if any
// fails to start. Must be called after Initialize.
func (ppl *Pipeline) Start() error {
	order, err := ppl.Order()
	if err != nil {
		return fmt.Errorf("failed to start pipeline: %w", err)
	}

	controllers := make([]*stage.Controller, 0, len(order))
	for _, vertex := range order {
		rv, err := ppl.graph.Vertex(vertex)
		if err != nil {
			return fmt.Errorf("failed to start pipeline: %w", err)
		}
		if rv.controller == nil {
			return fmt.Errorf("failed to start pipeline: vertex %s has not been initialized", vertex)
		}
		controllers = append(controllers, rv.controller)
	}

	for _, controller := range controllers {
		if err := controller.Start(); err != nil {
			_ = ppl.stopAllControllers()
			return fmt.Errorf("failed to start role %s: %w", controller.Name(), err)
		}
		go func(c *stage.Controller) {
			<-c.Done()
			ppl.doneOnce.Do(func() { close(ppl.doneCh) })
		}(controller)
	}

	return nil
}

// Stop shuts every role down consumers first and returns their terminal
// errors.
func (ppl *Pipeline) Stop() error {
	return ppl.stopAllControllers()
}

// Done is closed as soon as any started role terminates.
func (ppl *Pipeline) Done() <-chan struct{} {
	return ppl.doneCh
}

// DumpDot writes the pipeline topology as Graphviz DOT.
func (ppl *Pipeline) DumpDot(w io.Writer) error {
	return draw.DOT(ppl.graph, w)
}

// Controller returns the controller of the role at vertex. It is nil until
// Initialize.
func (ppl *Pipeline) Controller(vertex string) (*stage.Controller, error) {
	rv, err := ppl.graph.Vertex(vertex)
	if err != nil {
		return nil, err
	}
	return rv.controller, nil
}
