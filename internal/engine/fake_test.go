package engine

import (
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

type fakeModule struct{ name string }
type fakeFactory struct{}
type fakeInstance struct{}

// fakeInterpreter records how the runtime and bridge drive it. Only counters
// touched outside the access token are atomic.
type fakeInterpreter struct {
	startErr    error
	importErr   error
	lookupErr   error
	instErr     error
	invokeErr   error
	result      any
	invokeDelay time.Duration
	panicOn     Stage

	starts      int32
	evictCalls  int32
	inFlight    int32
	maxInFlight int32
	instances   int32

	mu       sync.Mutex
	evicted  []string
	paths    []string
	commands []string
	params   []string
}

func (f *fakeInterpreter) Start() error {
	atomic.AddInt32(&f.starts, 1)
	return f.startErr
}

func (f *fakeInterpreter) PrependSearchPath(dir string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paths = append([]string{dir}, f.paths...)
	return nil
}

func (f *fakeInterpreter) Evict(modules ...string) {
	atomic.AddInt32(&f.evictCalls, 1)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evicted = append(f.evicted, modules...)
}

func (f *fakeInterpreter) Import(module string) (Value, error) {
	if f.panicOn == StageImport {
		panic("import exploded")
	}
	if f.importErr != nil {
		return nil, f.importErr
	}
	return fakeModule{name: module}, nil
}

func (f *fakeInterpreter) Lookup(module Value, name string) (Value, error) {
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	return fakeFactory{}, nil
}

func (f *fakeInterpreter) Instantiate(factory Value) (Value, error) {
	if f.instErr != nil {
		return nil, f.instErr
	}
	atomic.AddInt32(&f.instances, 1)
	return &fakeInstance{}, nil
}

func (f *fakeInterpreter) Invoke(instance Value, method string, args ...string) (Value, error) {
	current := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		max := atomic.LoadInt32(&f.maxInFlight)
		if current <= max || atomic.CompareAndSwapInt32(&f.maxInFlight, max, current) {
			break
		}
	}

	if f.panicOn == StageInvoke {
		panic("invoke exploded")
	}
	if f.invokeDelay > 0 {
		time.Sleep(f.invokeDelay)
	}

	f.mu.Lock()
	f.commands = append(f.commands, args[0])
	f.params = append(f.params, args[1])
	f.mu.Unlock()

	if f.invokeErr != nil {
		return nil, f.invokeErr
	}
	if f.result != nil {
		return f.result, nil
	}
	return map[string]any{"command": args[0], "params": json.RawMessage(args[1])}, nil
}

func (f *fakeInterpreter) Encode(v Value) ([]byte, error) {
	if _, ok := v.(chan int); ok {
		return nil, errors.New("cannot encode channel")
	}
	return json.Marshal(v)
}

func (f *fakeInterpreter) Close() {}
