// Package transform runs JavaScript body scripts against captured exchanges.
package transform

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dop251/goja"
	"github.com/rs/zerolog"
	"github.com/tuncerburak97/gozcu/internal/config"
	"github.com/tuncerburak97/gozcu/internal/model"
	"github.com/tuncerburak97/gozcu/internal/routes"
)

const DefaultTimeout = 100 * time.Millisecond

// Engine maps route patterns to compiled scripts. Scripts see two globals,
// request and response, and may replace either body. Every call gets a
// fresh runtime so Apply is safe for concurrent use.
type Engine struct {
	matcher *routes.Matcher
	scripts []script
	timeout time.Duration
	logger  *zerolog.Logger
}

type script struct {
	name    string
	program *goja.Program
}

// NewEngine compiles every configured script. Script paths are relative to
// cfg.Dir unless absolute.
func NewEngine(cfg config.ScriptsConfig, logger *zerolog.Logger) (*Engine, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	e := &Engine{
		scripts: make([]script, 0, len(cfg.Routes)),
		timeout: cfg.Timeout,
		logger:  logger,
	}
	if e.timeout <= 0 {
		e.timeout = DefaultTimeout
	}

	patterns := make([]string, 0, len(cfg.Routes))
	for _, r := range cfg.Routes {
		if strings.TrimSpace(r.Route) == "" || r.Script == "" {
			return nil, fmt.Errorf("script route needs both a route and a script: %+v", r)
		}
		path := r.Script
		if !filepath.IsAbs(path) {
			path = filepath.Join(cfg.Dir, path)
		}
		program, err := compileScript(path)
		if err != nil {
			return nil, fmt.Errorf("failed to compile script for route %s: %w", r.Route, err)
		}
		patterns = append(patterns, r.Route)
		e.scripts = append(e.scripts, script{name: filepath.Base(path), program: program})
	}

	matcher, err := routes.NewMatcher(patterns)
	if err != nil {
		return nil, err
	}
	e.matcher = matcher
	return e, nil
}

func compileScript(path string) (*goja.Program, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return goja.Compile(path, string(content), true)
}

// Len reports how many scripts are loaded.
func (e *Engine) Len() int {
	return len(e.scripts)
}

// Apply runs the first script whose route matches path. Bodies the script
// assigns are written back to p; headers are read only.
func (e *Engine) Apply(path string, p *model.Payload) error {
	idx := e.matcher.Index(path)
	if idx < 0 {
		return nil
	}
	s := e.scripts[idx]

	vm := goja.New()
	timer := time.AfterFunc(e.timeout, func() {
		vm.Interrupt("script timed out")
	})
	defer timer.Stop()

	if err := vm.Set("log", func(msg string) {
		e.logger.Debug().Str("script", s.name).Str("path", path).Msg(msg)
	}); err != nil {
		return err
	}

	req := p.Data.Request
	reqObj := vm.NewObject()
	_ = reqObj.Set("method", req.Method)
	_ = reqObj.Set("path", path)
	if err := setJSON(vm, reqObj, "headers", req.Headers); err != nil {
		return err
	}
	if err := setJSON(vm, reqObj, "body", req.Body); err != nil {
		return err
	}

	resp := p.Data.Response
	respObj := vm.NewObject()
	if resp.Code != nil {
		_ = respObj.Set("statusCode", *resp.Code)
	}
	if err := setJSON(vm, respObj, "headers", resp.Headers); err != nil {
		return err
	}
	if err := setJSON(vm, respObj, "body", resp.Body); err != nil {
		return err
	}

	_ = vm.Set("request", reqObj)
	_ = vm.Set("response", respObj)

	if _, err := vm.RunProgram(s.program); err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			return fmt.Errorf("script %s: %v", s.name, interrupted.Value())
		}
		return fmt.Errorf("script %s: %w", s.name, err)
	}

	reqBody, err := getJSON(vm, vm.Get("request"))
	if err != nil {
		return fmt.Errorf("script %s: request body: %w", s.name, err)
	}
	respBody, err := getJSON(vm, vm.Get("response"))
	if err != nil {
		return fmt.Errorf("script %s: response body: %w", s.name, err)
	}
	p.Data.Request.Body = reqBody
	p.Data.Response.Body = respBody
	return nil
}

// setJSON hands v to the runtime as plain JS data by round tripping it
// through JSON.parse.
func setJSON(vm *goja.Runtime, obj *goja.Object, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	parse, ok := goja.AssertFunction(vm.Get("JSON").ToObject(vm).Get("parse"))
	if !ok {
		return errors.New("JSON.parse is not callable")
	}
	value, err := parse(goja.Undefined(), vm.ToValue(string(raw)))
	if err != nil {
		return err
	}
	return obj.Set(key, value)
}

// getJSON reads holder.body back through JSON.stringify. A missing holder or
// an undefined body yields nil.
func getJSON(vm *goja.Runtime, holder goja.Value) (any, error) {
	if holder == nil || goja.IsUndefined(holder) || goja.IsNull(holder) {
		return nil, nil
	}
	body := holder.ToObject(vm).Get("body")
	if body == nil || goja.IsUndefined(body) || goja.IsNull(body) {
		return nil, nil
	}
	stringify, ok := goja.AssertFunction(vm.Get("JSON").ToObject(vm).Get("stringify"))
	if !ok {
		return nil, errors.New("JSON.stringify is not callable")
	}
	out, err := stringify(goja.Undefined(), body)
	if err != nil {
		return nil, err
	}
	if goja.IsUndefined(out) {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(out.String())))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}
