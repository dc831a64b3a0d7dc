// =============================================================================
// 📦 测试负载工厂
// =============================================================================
// 提供确定性字节负载与分块工具，便于比对管道两端的数据
// =============================================================================
package fixtures

// Payload 返回长度为 n 的确定性字节序列，内容随位置变化，便于发现错位
func Payload(n int) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = byte(i*31 + i/251)
	}
	return p
}

// Split 按给定大小依次切分 p，剩余部分作为最后一块；大小为 0 的块保留为空块
func Split(p []byte, sizes ...int) [][]byte {
	chunks := make([][]byte, 0, len(sizes)+1)
	for _, n := range sizes {
		if n > len(p) {
			n = len(p)
		}
		chunks = append(chunks, p[:n])
		p = p[n:]
	}
	if len(p) > 0 {
		chunks = append(chunks, p)
	}
	return chunks
}
