package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	LogLevel  string          `mapstructure:"log_level"`
	Paths     PathsConfig     `mapstructure:"paths"`
	Check     CheckConfig     `mapstructure:"check"`
	Train     TrainConfig     `mapstructure:"train"`
	Recommend RecommendConfig `mapstructure:"recommend"`
}

type PathsConfig struct {
	DataPath        string `mapstructure:"data_path"`
	WeightsPath     string `mapstructure:"weights_path"`
	UserFactorsPath string `mapstructure:"user_factors_path"`
	ItemFactorsPath string `mapstructure:"item_factors_path"`
}

type CheckConfig struct {
	Step    float64 `mapstructure:"step"`
	Epsilon float64 `mapstructure:"epsilon"`
	WarnAt  float64 `mapstructure:"warn_at"`
	ErrorAt float64 `mapstructure:"error_at"`
	Seed    int64   `mapstructure:"seed"`
}

type TrainConfig struct {
	Epochs       int     `mapstructure:"epochs"`
	BatchSize    int     `mapstructure:"batch_size"`
	LearningRate float64 `mapstructure:"learning_rate"`
	L2           float64 `mapstructure:"l2"`
	Classes      int     `mapstructure:"classes"`
	Seed         int64   `mapstructure:"seed"`
}

type RecommendConfig struct {
	TopK   int    `mapstructure:"top_k"`
	Format string `mapstructure:"format"`
}

type LoadOptions struct {
	Cmd        flagBinder
	ConfigFile string
	Defaults   Config
}

type flagBinder interface {
	Flags() *pflag.FlagSet
}

func DefaultConfig() Config {
	return Config{
		LogLevel: "info",
		Paths: PathsConfig{
			DataPath:        "data/train.csv",
			WeightsPath:     "models/classifier.safetensors",
			UserFactorsPath: "models/user_factors.safetensors",
			ItemFactorsPath: "models/item_factors.safetensors",
		},
		Check: CheckConfig{
			Step:    1e-5,
			Epsilon: 1e-12,
			WarnAt:  1e-4,
			ErrorAt: 1e-2,
			Seed:    42,
		},
		Train: TrainConfig{
			Epochs:       10,
			BatchSize:    32,
			LearningRate: 0.1,
			L2:           1e-3,
			Classes:      0,
			Seed:         42,
		},
		Recommend: RecommendConfig{
			TopK:   0,
			Format: "csv",
		},
	}
}

func RegisterFlags(fs *pflag.FlagSet, defaults Config) {
	fs.String("log-level", defaults.LogLevel, "Log level (debug|info|warn|error)")
	fs.String("paths-data-path", defaults.Paths.DataPath, "Path to labeled pixel CSV")
	fs.String("paths-weights-path", defaults.Paths.WeightsPath, "Path to classifier weights safetensors")
	fs.String("paths-user-factors-path", defaults.Paths.UserFactorsPath, "Path to user factor safetensors")
	fs.String("paths-item-factors-path", defaults.Paths.ItemFactorsPath, "Path to item factor safetensors")
	fs.Float64("check-step", defaults.Check.Step, "Finite-difference step h")
	fs.Float64("check-epsilon", defaults.Check.Epsilon, "Relative-error denominator guard")
	fs.Float64("check-warn-at", defaults.Check.WarnAt, "Relative-error warning threshold")
	fs.Float64("check-error-at", defaults.Check.ErrorAt, "Relative-error error threshold")
	fs.Int64("check-seed", defaults.Check.Seed, "Random seed for check tensors")
	fs.Int("train-epochs", defaults.Train.Epochs, "Training epochs")
	fs.Int("train-batch-size", defaults.Train.BatchSize, "Minibatch size")
	fs.Float64("train-learning-rate", defaults.Train.LearningRate, "SGD learning rate")
	fs.Float64("train-l2", defaults.Train.L2, "L2 weight penalty")
	fs.Int("train-classes", defaults.Train.Classes, "Class count (0 = infer from labels)")
	fs.Int64("train-seed", defaults.Train.Seed, "Random seed for training")
	fs.Int("recommend-top-k", defaults.Recommend.TopK, "Emit only each user's top K items (0 = full matrix)")
	fs.String("recommend-format", defaults.Recommend.Format, "Score output format (csv|json)")
}

func Load(opts LoadOptions) (Config, error) {
	v := viper.New()

	setDefaults(v, opts.Defaults)
	if opts.Cmd != nil {
		if err := v.BindPFlags(opts.Cmd.Flags()); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}
	registerAliases(v)

	v.SetEnvPrefix("GRADLAB")
	replacer := strings.NewReplacer("-", "_", ".", "_", "__", "_")
	v.SetEnvKeyReplacer(replacer)
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("gradlab")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper, c Config) {
	v.SetDefault("log_level", c.LogLevel)
	v.SetDefault("paths.data_path", c.Paths.DataPath)
	v.SetDefault("paths.weights_path", c.Paths.WeightsPath)
	v.SetDefault("paths.user_factors_path", c.Paths.UserFactorsPath)
	v.SetDefault("paths.item_factors_path", c.Paths.ItemFactorsPath)
	v.SetDefault("check.step", c.Check.Step)
	v.SetDefault("check.epsilon", c.Check.Epsilon)
	v.SetDefault("check.warn_at", c.Check.WarnAt)
	v.SetDefault("check.error_at", c.Check.ErrorAt)
	v.SetDefault("check.seed", c.Check.Seed)
	v.SetDefault("train.epochs", c.Train.Epochs)
	v.SetDefault("train.batch_size", c.Train.BatchSize)
	v.SetDefault("train.learning_rate", c.Train.LearningRate)
	v.SetDefault("train.l2", c.Train.L2)
	v.SetDefault("train.classes", c.Train.Classes)
	v.SetDefault("train.seed", c.Train.Seed)
	v.SetDefault("recommend.top_k", c.Recommend.TopK)
	v.SetDefault("recommend.format", c.Recommend.Format)
}

func registerAliases(v *viper.Viper) {
	v.RegisterAlias("log_level", "log-level")
	v.RegisterAlias("paths.data_path", "paths-data-path")
	v.RegisterAlias("paths.weights_path", "paths-weights-path")
	v.RegisterAlias("paths.user_factors_path", "paths-user-factors-path")
	v.RegisterAlias("paths.item_factors_path", "paths-item-factors-path")
	v.RegisterAlias("check.step", "check-step")
	v.RegisterAlias("check.epsilon", "check-epsilon")
	v.RegisterAlias("check.warn_at", "check-warn-at")
	v.RegisterAlias("check.error_at", "check-error-at")
	v.RegisterAlias("check.seed", "check-seed")
	v.RegisterAlias("train.epochs", "train-epochs")
	v.RegisterAlias("train.batch_size", "train-batch-size")
	v.RegisterAlias("train.learning_rate", "train-learning-rate")
	v.RegisterAlias("train.l2", "train-l2")
	v.RegisterAlias("train.classes", "train-classes")
	v.RegisterAlias("train.seed", "train-seed")
	v.RegisterAlias("recommend.top_k", "recommend-top-k")
	v.RegisterAlias("recommend.format", "recommend-format")
}
