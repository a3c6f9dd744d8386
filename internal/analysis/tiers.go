package analysis

import (
	"github.com/scourlab/scour/internal/config"
)

// ModelTier binds a GPU memory class to a servable model and its context
// window. MaxModelLen is the hard input-token ceiling the folding budget
// is derived from.
type ModelTier struct {
	MinMemoryGB   int
	Model         string
	MaxModelLen   int
	GPUMemoryUtil float64
}

// modelTiers is ordered largest-first so SelectTier can return the first
// tier that fits.
var modelTiers = []ModelTier{
	{MinMemoryGB: 40, Model: "Qwen/Qwen2.5-14B-Instruct-AWQ", MaxModelLen: 16384, GPUMemoryUtil: 0.90},
	{MinMemoryGB: 24, Model: "Qwen/Qwen2.5-7B-Instruct-AWQ", MaxModelLen: 12288, GPUMemoryUtil: 0.90},
	{MinMemoryGB: 16, Model: "Qwen/Qwen2.5-7B-Instruct-AWQ", MaxModelLen: 8192, GPUMemoryUtil: 0.90},
	{MinMemoryGB: 8, Model: "Qwen/Qwen2.5-1.5B-Instruct", MaxModelLen: 4096, GPUMemoryUtil: 0.90},
	{MinMemoryGB: 0, Model: "TinyLlama/TinyLlama-1.1B-Chat-v1.0", MaxModelLen: 2048, GPUMemoryUtil: 0.90},
}

// SelectTier picks the largest model tier that fits within memoryGB of
// GPU memory. Anything below the smallest class gets the smallest tier.
func SelectTier(memoryGB int) ModelTier {
	for _, tier := range modelTiers {
		if memoryGB >= tier.MinMemoryGB {
			return tier
		}
	}

	return modelTiers[len(modelTiers)-1]
}

// ResolveModel applies explicit configuration on top of the memory tier:
// a non-empty model name or a positive context length overrides the
// tier's choice, so operators can pin a deployment exactly.
func ResolveModel(cfg config.SummarizerConfig) ModelTier {
	tier := SelectTier(cfg.GPUMemoryGB)

	if cfg.Model != "" {
		tier.Model = cfg.Model
	}

	if cfg.MaxModelLen > 0 {
		tier.MaxModelLen = cfg.MaxModelLen
	}

	return tier
}
