package telemetry

var SamplerFor = sampler
