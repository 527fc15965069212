// Package apierror 提供统一风格的错误类型，用于 qubesd 内部各层的错误处理
//
// 错误响应格式支持 XML 和 JSON 两种格式：
//
//	XML 格式：
//	<Response>
//	    <Errors>
//	        <Error>
//	            <Code>InvalidInstanceID.NotFound</Code>
//	            <Message>The instance ID 'i-1a2b3c4d' does not exist</Message>
//	        </Error>
//	    </Errors>
//	    <RequestID>ea966190-f9aa-478e-9ede-example</RequestID>
//	</Response>
//
//	JSON 格式：
//	{
//	    "errors": [
//	        {
//	            "code": "InvalidInstanceID.NotFound",
//	            "message": "The instance ID 'i-1a2b3c4d' does not exist"
//	        }
//	    ],
//	    "requestID": "ea966190-f9aa-478e-9ede-example"
//	}
//
// 使用示例：
//
//	// 创建错误
//	err := apierror.NewError("InvalidInstanceID.NotFound", "The instance ID 'i-1a2b3c4d' does not exist")
//
//	// 创建错误响应
//	errorResp := apierror.NewErrorResponse("request-id", err)
//
//	// 在 gin 中使用
//	c.XML(http.StatusNotFound, errorResp)
//	// 或
//	c.JSON(http.StatusNotFound, errorResp)
//
// 预定义错误变量（可在代码中直接使用）：
//
//   - ErrInvalidValue: 属性赋值被拒绝（类型不匹配、超出范围、禁止的转换）
//   - ErrNotFound: 引用的对象不存在
//   - ErrInUse: 对象仍被引用，无法修改
//   - ErrWrongState: 操作在当前状态下不合法
//   - ErrMemory: 内存不足，无法启动域
//   - ErrStorage: 存储操作失败
//   - ErrHypervisor: hypervisor 调用失败
//   - ErrNotAllowed: 调用方无权执行该操作
//   - ErrInternal: 内部错误
//
// 使用示例：
//
//	// 直接使用预定义的错误
//	errorResp := apierror.NewErrorResponse("request-id", apierror.ErrNotFound)
//
//	// 或创建自定义错误
//	err := apierror.NewError("CustomError", "Custom error message")
package apierror
