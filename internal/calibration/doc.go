// Package calibration カメラの内部パラメータと外部パラメータを読み込む
//
// # 責務
// - 名前付きカメラ（head, top など）のキャリブレーションファイルの解決
// - ROS camera_info 形式 YAML の解析と要素数の検証
// - カメラ間の外部パラメータ（並進・クォータニオン）の読み込み
//
// # 仕様
// - 未登録のカメラ名は ErrConfigNotFound
// - ファイルが無い、キーが無い、要素数が合わない場合は ErrParse
// - キャッシュは持たない。同じカメラ名を何度読み込んでも結果は同じ
package calibration
