package server

import "strconv"

// Command builds the llama-server argument vector for the config. Pure and
// deterministic; safe to call repeatedly.
//
// The binary's --ctx-size flag is the total context shared across all
// parallel slots, so the per-request CtxSize is multiplied by Parallel here.
func (c Config) Command() []string {
	c = c.withDefaults()
	args := []string{
		c.BinaryPath,
		"--model", c.ModelPath,
		"--port", strconv.Itoa(c.Port),
		"--ctx-size", strconv.Itoa(c.CtxSize * c.Parallel),
		"--parallel", strconv.Itoa(c.Parallel),
		"-ngl", strconv.Itoa(c.effectiveGPULayers()),
		"--split-mode", "row",
	}
	if c.ContBatching {
		args = append(args, "--cont-batching")
	}
	return args
}
