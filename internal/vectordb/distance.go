package vectordb

import (
	"fmt"
	"math"

	"github.com/fyerfyer/truthlens-rag/internal/models"
)

// CosineSimilarity 计算两个向量的余弦相似度
// 任一向量为零向量时返回0
func CosineSimilarity(v1, v2 []float32) (float32, error) {
	if len(v1) != len(v2) {
		return 0, fmt.Errorf("vector dimensions do not match: %d vs %d", len(v1), len(v2))
	}
	n1, n2 := vectorNorm(v1), vectorNorm(v2)
	if n1 == 0 || n2 == 0 {
		return 0, nil
	}
	return clampSimilarity(dotProduct(v1, v2) / (n1 * n2)), nil
}

// dotProduct 计算两个向量的点积
func dotProduct(v1, v2 []float32) float32 {
	var dot float32
	for i := 0; i < len(v1); i++ {
		dot += v1[i] * v2[i]
	}
	return dot
}

// vectorNorm 计算向量的L2范数
func vectorNorm(v []float32) float32 {
	var sum float32
	for _, val := range v {
		sum += val * val
	}
	return float32(math.Sqrt(float64(sum)))
}

// normalizeVector 归一化向量（使其长度为1），零向量原样返回
func normalizeVector(v []float32) []float32 {
	norm := vectorNorm(v)
	result := make([]float32, len(v))
	if norm == 0 {
		copy(result, v)
		return result
	}
	for i, val := range v {
		result[i] = val / norm
	}
	return result
}

// clampSimilarity 处理浮点误差
func clampSimilarity(s float32) float32 {
	switch {
	case s > 1:
		return 1
	case s < -1:
		return -1
	default:
		return s
	}
}

// ValidateVector 验证向量维度和有效性
func ValidateVector(vector []float32, expectedDim int) error {
	if len(vector) == 0 {
		return models.Errorf(models.KindInvalidArgument, "empty vector")
	}
	if expectedDim > 0 && len(vector) != expectedDim {
		return models.Errorf(models.KindInvalidArgument,
			"vector dimension mismatch: expected %d, got %d", expectedDim, len(vector))
	}
	for i, v := range vector {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return models.Errorf(models.KindInvalidArgument, "vector component %d is not finite", i)
		}
	}
	return nil
}
