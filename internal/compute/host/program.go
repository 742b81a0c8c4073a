package host

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/fxnlabs/clsgemm/internal/compute"
	"go.uber.org/zap"
)

var kernelDecl = regexp.MustCompile(`(?:__kernel|\bkernel)\s+void\s+([A-Za-z_]\w*)\s*\(`)

type program struct {
	refcount
	runtime *Runtime
	context *clContext
	source  string

	mu      sync.Mutex
	status  compute.BuildStatus
	log     string
	options string
	// entry points declared by the source and their parameter counts
	entries map[string]int
}

// Build checks the structure of the source and records the declared kernels.
// It does not compile OpenCL C; kernels run through registered Go
// implementations.
func (p *program) Build(dev compute.Device, options string) error {
	const call = "clBuildProgram"
	if !p.alive() {
		return compute.NewError(call, compute.InvalidProgram)
	}
	d, ok := dev.(*device)
	if !ok || d != p.context.device {
		return compute.NewError(call, compute.InvalidDevice)
	}
	if err := checkBuildOptions(options); err != nil {
		return &compute.Error{Call: call, Status: compute.InvalidBuildOptions, Detail: err.Error()}
	}

	entries, diags := parseSource(p.source)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.options = options
	if len(diags) > 0 {
		p.status = compute.BuildError
		p.log = strings.Join(diags, "\n") + "\n"
		p.entries = nil
		p.runtime.logger.Debug("program build failed", zap.Int("diagnostics", len(diags)))
		return compute.NewError(call, compute.BuildProgramFailure)
	}
	p.status = compute.BuildSuccess
	p.log = ""
	p.entries = entries
	return nil
}

func (p *program) BuildInfo(dev compute.Device) (compute.BuildInfo, error) {
	const call = "clGetProgramBuildInfo"
	if !p.alive() {
		return compute.BuildInfo{}, compute.NewError(call, compute.InvalidProgram)
	}
	d, ok := dev.(*device)
	if !ok || d != p.context.device {
		return compute.BuildInfo{}, compute.NewError(call, compute.InvalidDevice)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return compute.BuildInfo{Log: p.log, Options: p.options, Status: p.status}, nil
}

func (p *program) CreateKernel(name string) (compute.Kernel, error) {
	const call = "clCreateKernel"
	if !p.alive() {
		return nil, compute.NewError(call, compute.InvalidProgram)
	}
	p.mu.Lock()
	status, entries := p.status, p.entries
	p.mu.Unlock()
	if status != compute.BuildSuccess {
		return nil, compute.NewError(call, compute.InvalidProgramExecutable)
	}
	params, declared := entries[name]
	if !declared {
		return nil, compute.NewError(call, compute.InvalidKernelName)
	}
	impl, registered := p.runtime.kernels[name]
	if !registered {
		return nil, &compute.Error{Call: call, Status: compute.InvalidKernelName, Detail: "no host implementation for " + name}
	}
	if impl.NumArgs() != params {
		return nil, &compute.Error{
			Call:   call,
			Status: compute.InvalidKernelDefinition,
			Detail: fmt.Sprintf("%s declares %d parameters, host implementation takes %d", name, params, impl.NumArgs()),
		}
	}
	p.runtime.track(func(s *Stats) {
		s.Kernels++
		s.LiveObjects++
	})
	return newKernel(p, name, impl), nil
}

func (p *program) Release() error {
	return p.release(p.runtime, "clReleaseProgram", compute.InvalidProgram)
}

func checkBuildOptions(options string) error {
	for _, opt := range strings.Fields(options) {
		if !strings.HasPrefix(opt, "-") {
			// values of "-D NAME" and "-I dir" forms
			continue
		}
		switch {
		case strings.HasPrefix(opt, "-D"), strings.HasPrefix(opt, "-I"),
			strings.HasPrefix(opt, "-cl-"), opt == "-w", opt == "-Werror":
		default:
			return fmt.Errorf("unsupported build option %q", opt)
		}
	}
	return nil
}

type bracket struct {
	ch        byte
	line, col int
}

var closing = map[byte]byte{')': '(', ']': '[', '}': '{'}

// parseSource blanks comments, literals and preprocessor directives, checks
// bracket nesting and collects kernel declarations with their parameter
// counts. Diagnostics use the "<kernel>:line:col: error: msg" form of vendor
// build logs.
func parseSource(src string) (map[string]int, []string) {
	var diags []string
	errorf := func(line, col int, format string, args ...any) {
		diags = append(diags, fmt.Sprintf("<kernel>:%d:%d: error: %s", line, col, fmt.Sprintf(format, args...)))
	}

	code, line, col, ok := blankComments(src)
	if !ok {
		errorf(line, col, "unterminated /* comment")
		return nil, diags
	}

	var stack []bracket
	line, col = 1, 0
	for i := 0; i < len(code); i++ {
		c := code[i]
		col++
		switch c {
		case '\n':
			line, col = line+1, 0
		case '(', '[', '{':
			stack = append(stack, bracket{c, line, col})
		case ')', ']', '}':
			if len(stack) == 0 || stack[len(stack)-1].ch != closing[c] {
				errorf(line, col, "unexpected '%c'", c)
				return nil, diags
			}
			stack = stack[:len(stack)-1]
		}
	}
	if len(stack) > 0 {
		open := stack[len(stack)-1]
		errorf(open.line, open.col, "'%c' is never closed", open.ch)
		return nil, diags
	}

	entries := map[string]int{}
	for _, m := range kernelDecl.FindAllStringSubmatchIndex(code, -1) {
		name := code[m[2]:m[3]]
		open := m[1] - 1
		end := matchParen(code, open)
		entries[name] = countParams(code[open+1 : end])
	}
	if len(entries) == 0 {
		errorf(1, 1, "no kernel functions found in program")
		return nil, diags
	}
	return entries, nil
}

// blankComments replaces comments, string or character literals and
// preprocessor directives (with their backslash continuations) with spaces,
// keeping newlines so positions stay valid. On an unterminated block comment
// it returns false with the comment's position.
func blankComments(src string) (string, int, int, bool) {
	out := []byte(src)
	line, col := 1, 0
	for i := 0; i < len(out); i++ {
		col++
		switch {
		case out[i] == '\n':
			line, col = line+1, 0
		case out[i] == '/' && i+1 < len(out) && out[i+1] == '/':
			for i < len(out) && out[i] != '\n' {
				out[i] = ' '
				i++
			}
			i--
		case out[i] == '/' && i+1 < len(out) && out[i+1] == '*':
			startLine, startCol := line, col
			out[i], out[i+1] = ' ', ' '
			i += 2
			for ; i < len(out) && !(out[i] == '*' && i+1 < len(out) && out[i+1] == '/'); i++ {
				if out[i] == '\n' {
					line, col = line+1, 0
					continue
				}
				out[i] = ' '
			}
			if i >= len(out) {
				return "", startLine, startCol, false
			}
			out[i], out[i+1] = ' ', ' '
			i++
		case out[i] == '#' && lineStart(out, i):
			for ; i < len(out) && out[i] != '\n'; i++ {
				if out[i] == '\\' && i+1 < len(out) && out[i+1] == '\n' {
					out[i] = ' '
					i++
					line, col = line+1, 0
					continue
				}
				out[i] = ' '
			}
			i--
		case out[i] == '"' || out[i] == '\'':
			quote := out[i]
			for i++; i < len(out) && out[i] != quote && out[i] != '\n'; i++ {
				if out[i] == '\\' && i+1 < len(out) {
					out[i] = ' '
					i++
				}
				out[i] = ' '
			}
		}
	}
	return string(out), line, col, true
}

// lineStart reports whether only blanks precede position i on its line.
func lineStart(b []byte, i int) bool {
	for j := i - 1; j >= 0; j-- {
		switch b[j] {
		case '\n':
			return true
		case ' ', '\t':
		default:
			return false
		}
	}
	return true
}

func matchParen(code string, open int) int {
	depth := 0
	for i := open; i < len(code); i++ {
		switch code[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return len(code)
}

func countParams(list string) int {
	list = strings.TrimSpace(list)
	if list == "" || list == "void" {
		return 0
	}
	n, depth := 1, 0
	for i := 0; i < len(list); i++ {
		switch list[i] {
		case '(', '[':
			depth++
		case ')', ']':
			depth--
		case ',':
			if depth == 0 {
				n++
			}
		}
	}
	return n
}
