// Package neural implements the feedforward net that drives loss-recovery
// calibration, per spec.md §4.12: 8 inputs -> 16 hidden (ReLU) -> 8 hidden
// (ReLU) -> 4 outputs (Sigmoid), trained online with one SGD step per
// completed recovery episode.
package neural

import (
	"encoding/json"
	"math"
	"math/rand"
	"sync"
	"time"
)

const (
	inputSize   = 8
	hidden1Size = 16
	hidden2Size = 8
	outputSize  = 4

	minTrainEpisodes = 3
)

// Outputs is the Predict result, mapped from the sigmoid output layer onto
// the parameter ranges spec.md §4.12 defines.
type Outputs struct {
	StakeMultiplier    float64
	PrecisionThreshold float64
	ConfidenceBoost    float64
	Aggressiveness     float64
}

func defaultOutputs() Outputs {
	return Outputs{
		StakeMultiplier:    1.0,
		PrecisionThreshold: 0.75,
		ConfidenceBoost:    0.0,
		Aggressiveness:     0.3,
	}
}

// defaultNormalized is defaultOutputs expressed back in [0,1] network-output
// space, the target Train() pulls low-reward episodes toward.
func defaultNormalized() [outputSize]float64 {
	return [outputSize]float64{
		normalize(defaultOutputs().StakeMultiplier, 0.5, 2.0),
		normalize(defaultOutputs().PrecisionThreshold, 0.6, 0.95),
		normalize(defaultOutputs().ConfidenceBoost, 0.0, 0.35),
		normalize(defaultOutputs().Aggressiveness, 0, 1),
	}
}

// TrainConfig tunes the learning-rate schedule, per spec.md §4.12.
type TrainConfig struct {
	InitialLR float64
	LRDecay   float64
	MinLR     float64
}

// DefaultTrainConfig matches the spec's fixed defaults.
func DefaultTrainConfig() TrainConfig {
	return TrainConfig{InitialLR: 0.01, LRDecay: 0.999, MinLR: 0.0001}
}

// Net is the flat-array feedforward network. All weight/bias storage is
// row-major per spec.md §4.12 so Serialize/Deserialize round-trip exact
// byte layouts.
type Net struct {
	mu sync.Mutex

	w1 [inputSize * hidden1Size]float64
	b1 [hidden1Size]float64
	w2 [hidden1Size * hidden2Size]float64
	b2 [hidden2Size]float64
	w3 [hidden2Size * outputSize]float64
	b3 [outputSize]float64

	iterations   int
	lastTrainedAt time.Time

	cfg TrainConfig
}

// New builds a freshly Xavier-initialized network.
func New(cfg TrainConfig) *Net {
	n := &Net{cfg: cfg}
	n.xavierInit()
	return n
}

func (n *Net) xavierInit() {
	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	xavier(r, n.w1[:], inputSize, hidden1Size)
	xavier(r, n.w2[:], hidden1Size, hidden2Size)
	xavier(r, n.w3[:], hidden2Size, outputSize)
	for i := range n.b1 {
		n.b1[i] = 0
	}
	for i := range n.b2 {
		n.b2[i] = 0
	}
	for i := range n.b3 {
		n.b3[i] = 0
	}
	n.iterations = 0
}

func xavier(r *rand.Rand, w []float64, fanIn, fanOut int) {
	limit := math.Sqrt(6.0 / float64(fanIn+fanOut))
	for i := range w {
		w[i] = (r.Float64()*2 - 1) * limit
	}
}

func sigmoid(x float64) float64 {
	if x > 15 {
		x = 15
	} else if x < -15 {
		x = -15
	}
	return 1.0 / (1.0 + math.Exp(-x))
}

func sigmoidDeriv(sig float64) float64 { return sig * (1 - sig) }

func relu(x float64) float64 {
	if x < 0 {
		return 0
	}
	return x
}

func reluDeriv(preActivation float64) float64 {
	if preActivation < 0 {
		return 0
	}
	return 1
}

// normalize maps v in [lo,hi] onto [0,1].
func normalize(v, lo, hi float64) float64 {
	if hi == lo {
		return 0
	}
	n := (v - lo) / (hi - lo)
	if n < 0 {
		return 0
	}
	if n > 1 {
		return 1
	}
	return n
}

// denormalize maps v in [0,1] onto [lo,hi].
func denormalize(v, lo, hi float64) float64 { return lo + v*(hi-lo) }

type forwardPass struct {
	input  [inputSize]float64
	z1, a1 [hidden1Size]float64
	z2, a2 [hidden2Size]float64
	z3, a3 [outputSize]float64
}

func (n *Net) forward(input [inputSize]float64) forwardPass {
	var fp forwardPass
	fp.input = input

	for j := 0; j < hidden1Size; j++ {
		sum := n.b1[j]
		for i := 0; i < inputSize; i++ {
			sum += input[i] * n.w1[i*hidden1Size+j]
		}
		fp.z1[j] = sum
		fp.a1[j] = relu(sum)
	}

	for j := 0; j < hidden2Size; j++ {
		sum := n.b2[j]
		for i := 0; i < hidden1Size; i++ {
			sum += fp.a1[i] * n.w2[i*hidden2Size+j]
		}
		fp.z2[j] = sum
		fp.a2[j] = relu(sum)
	}

	for j := 0; j < outputSize; j++ {
		sum := n.b3[j]
		for i := 0; i < hidden2Size; i++ {
			sum += fp.a2[i] * n.w3[i*outputSize+j]
		}
		fp.z3[j] = sum
		fp.a3[j] = sigmoid(sum)
	}

	return fp
}

// Predict returns calibration parameters for the given 8-feature input. If
// the network has fewer than minTrainEpisodes completed training steps, it
// returns fixed conservative defaults instead of trusting an undertrained
// network, per spec.md §4.12.
func (n *Net) Predict(input [inputSize]float64) Outputs {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.iterations < minTrainEpisodes {
		return defaultOutputs()
	}

	fp := n.forward(input)
	return Outputs{
		StakeMultiplier:    denormalize(fp.a3[0], 0.5, 2.0),
		PrecisionThreshold: denormalize(fp.a3[1], 0.6, 0.95),
		ConfidenceBoost:    denormalize(fp.a3[2], 0.0, 0.35),
		Aggressiveness:     denormalize(fp.a3[3], 0, 1),
	}
}

// Iterations returns the number of completed training steps.
func (n *Net) Iterations() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.iterations
}

// Train performs one online SGD step from a completed recovery episode.
// reward is clamped to [0,1]; actual is the normalized-[0,1] output vector
// that produced the episode's outcome (typically the same Predict() input
// that was actually used, renormalized). Train mutates the network in
// place and returns the mean squared error against target measured on the
// forward pass before the weight update, for logging only.
func (n *Net) Train(input [inputSize]float64, actual [outputSize]float64, reward float64) float64 {
	n.mu.Lock()
	defer n.mu.Unlock()

	reward = clamp01(reward)
	def := defaultNormalized()

	var target [outputSize]float64
	for i := range target {
		target[i] = lerp(def[i], actual[i], reward)
	}

	fp := n.forward(input)

	lr := n.cfg.InitialLR * math.Pow(n.cfg.LRDecay, float64(n.iterations))
	if lr < n.cfg.MinLR {
		lr = n.cfg.MinLR
	}

	var outputDelta [outputSize]float64
	mse := 0.0
	for i := 0; i < outputSize; i++ {
		errv := target[i] - fp.a3[i]
		outputDelta[i] = errv * sigmoidDeriv(fp.a3[i])
		mse += errv * errv
	}
	mse /= outputSize

	var hidden2Delta [hidden2Size]float64
	for i := 0; i < hidden2Size; i++ {
		sum := 0.0
		for j := 0; j < outputSize; j++ {
			sum += outputDelta[j] * n.w3[i*outputSize+j]
		}
		hidden2Delta[i] = sum * reluDeriv(fp.z2[i])
	}

	var hidden1Delta [hidden1Size]float64
	for i := 0; i < hidden1Size; i++ {
		sum := 0.0
		for j := 0; j < hidden2Size; j++ {
			sum += hidden2Delta[j] * n.w2[i*hidden2Size+j]
		}
		hidden1Delta[i] = sum * reluDeriv(fp.z1[i])
	}

	for i := 0; i < hidden2Size; i++ {
		for j := 0; j < outputSize; j++ {
			n.w3[i*outputSize+j] += lr * outputDelta[j] * fp.a2[i]
		}
	}
	for j := 0; j < outputSize; j++ {
		n.b3[j] += lr * outputDelta[j]
	}

	for i := 0; i < hidden1Size; i++ {
		for j := 0; j < hidden2Size; j++ {
			n.w2[i*hidden2Size+j] += lr * hidden2Delta[j] * fp.a1[i]
		}
	}
	for j := 0; j < hidden2Size; j++ {
		n.b2[j] += lr * hidden2Delta[j]
	}

	for i := 0; i < inputSize; i++ {
		for j := 0; j < hidden1Size; j++ {
			n.w1[i*hidden1Size+j] += lr * hidden1Delta[j] * fp.input[i]
		}
	}
	for j := 0; j < hidden1Size; j++ {
		n.b1[j] += lr * hidden1Delta[j]
	}

	n.iterations++
	n.lastTrainedAt = time.Now()

	return mse
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func lerp(a, b, t float64) float64 { return a + t*(b-a) }

// snapshot is the JSON shape used by Serialize/Deserialize and by
// pkg/store's neural_weights persistence.
type snapshot struct {
	W1         []float64 `json:"w1"`
	B1         []float64 `json:"b1"`
	W2         []float64 `json:"w2"`
	B2         []float64 `json:"b2"`
	W3         []float64 `json:"w3"`
	B3         []float64 `json:"b3"`
	Iterations int       `json:"iterations"`
}

// Serialize encodes the network's weights and iteration count to JSON.
func (n *Net) Serialize() ([]byte, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	s := snapshot{
		W1:         append([]float64(nil), n.w1[:]...),
		B1:         append([]float64(nil), n.b1[:]...),
		W2:         append([]float64(nil), n.w2[:]...),
		B2:         append([]float64(nil), n.b2[:]...),
		W3:         append([]float64(nil), n.w3[:]...),
		B3:         append([]float64(nil), n.b3[:]...),
		Iterations: n.iterations,
	}
	return json.Marshal(s)
}

// Deserialize loads weights from a previously Serialize()'d payload. If the
// payload's flat array lengths don't match the network's fixed layer
// shapes, the network reinitializes fresh (Xavier) weights rather than
// loading a corrupt or stale-shape payload, per spec.md §4.12.
func (n *Net) Deserialize(data []byte) error {
	var s snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		n.mu.Lock()
		n.xavierInit()
		n.mu.Unlock()
		return err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if len(s.W1) != len(n.w1) || len(s.B1) != len(n.b1) ||
		len(s.W2) != len(n.w2) || len(s.B2) != len(n.b2) ||
		len(s.W3) != len(n.w3) || len(s.B3) != len(n.b3) {
		n.xavierInit()
		return nil
	}

	copy(n.w1[:], s.W1)
	copy(n.b1[:], s.B1)
	copy(n.w2[:], s.W2)
	copy(n.b2[:], s.B2)
	copy(n.w3[:], s.W3)
	copy(n.b3[:], s.B3)
	n.iterations = s.Iterations
	return nil
}
