package eos

// ServiceType tells a factory how to build the service it produces and whether
// that service dispatches asynchronously. A factory only accepts an async service
// type when concurrency is enabled, and requires one when it is.
type ServiceType[T Service] struct {
	Name          string
	AsyncDispatch bool
	Construct     func(base *EnhancedService) T
}

// StandardService produces synchronous *EnhancedService instances.
var StandardService = ServiceType[*EnhancedService]{
	Name:      "EnhancedService",
	Construct: func(base *EnhancedService) *EnhancedService { return base },
}

// AsyncService produces *AsyncEnhancedService instances.
var AsyncService = ServiceType[*AsyncEnhancedService]{
	Name:          "AsyncEnhancedService",
	AsyncDispatch: true,
	Construct:     newAsyncEnhancedService,
}
