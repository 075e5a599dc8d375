package model

import (
	"io"
	"os"

	"github.com/YuminosukeSato/scigbm/pkg/errors"
)

// SaveModel はモデルをテキストファイルに保存する
//
// 使用例:
//
//	reg := lightgbm.NewLGBMRegressor()
//	// ... モデルの学習 ...
//	err := model.SaveModel(reg, "model.txt")
func SaveModel(m Persistable, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return errors.Wrapf(err, "create %s", filename)
	}
	defer file.Close()
	return SaveModelToWriter(m, file)
}

// LoadModel はテキストファイルからモデルを読み込む
func LoadModel(m Persistable, filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		return errors.Wrapf(err, "open %s", filename)
	}
	defer file.Close()
	return LoadModelFromReader(m, file)
}

// SaveModelToWriter はモデルをio.Writerに書き出す
func SaveModelToWriter(m Persistable, w io.Writer) error {
	s, err := m.ModelString()
	if err != nil {
		return err
	}
	if _, err := io.WriteString(w, s); err != nil {
		return errors.Wrap(err, "write model")
	}
	return nil
}

// LoadModelFromReader はio.Readerからモデルを読み込む
func LoadModelFromReader(m Persistable, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return errors.Wrap(err, "read model")
	}
	return m.LoadModelString(string(data))
}
