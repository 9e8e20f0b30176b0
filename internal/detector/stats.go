package detector

import "math"

// floatTolerance - 배수/임계값 비교 시 부동소수점 오차 허용치 (0.30/0.10 == 2.9999999999999996)
const floatTolerance = 1e-9

// mean - 산술 평균, 빈 슬라이스는 0
func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// sampleStddev - 표본 표준편차 (SQL STDDEV와 동일하게 n-1로 나눔), 2개 미만이면 0
func sampleStddev(values []float64) float64 {
	n := len(values)
	if n < 2 {
		return 0
	}
	m := mean(values)
	var sq float64
	for _, v := range values {
		d := v - m
		sq += d * d
	}
	return math.Sqrt(sq / float64(n-1))
}

// zScore - |value-mean|/stddev
// stddev가 0(분산 없음)이거나 NaN이면 0을 반환하여 알림이 절대 발생하지 않도록 함
func zScore(value, m, stddev float64) float64 {
	if stddev <= 0 || math.IsNaN(stddev) || math.IsInf(stddev, 0) {
		return 0
	}
	return math.Abs(value-m) / stddev
}

// atLeast - a >= b (부동소수점 오차 허용)
func atLeast(a, b float64) bool {
	return a+floatTolerance >= b
}
